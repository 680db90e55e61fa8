// Package openaicompat implements provider.Provider for any backend that
// speaks the OpenAI Chat Completions protocol. It handles request
// serialization, SSE chunk streaming, tool call argument buffering, and
// error mapping.
//
// One Client serves every preset provider (OpenAI, Anthropic, Groq, Google,
// OpenRouter, Ollama) through their OpenAI-compatible endpoints; only the
// base URL and API key differ.
package openaicompat

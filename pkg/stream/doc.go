// Package stream implements the frame codec of the chat event stream.
//
// Each event travels as one line
//
//	data: {"type":"text_delta","content":"Hel"}
//
// and a stream ends with the literal line
//
//	data: [DONE]
//
// Writers separate frames with a blank line so the stream is also valid
// Server-Sent Events. Readers accept both forms.
package stream

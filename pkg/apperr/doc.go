/*
Package apperr defines the sync server's stable error taxonomy (C7)
and the two terminal converters that turn an *Error into a transport
response: ToHTTP for the request/response gateway and ToAck for the
event channel gateway. Handlers let typed errors propagate up to
whichever converter their transport uses; nothing downstream of a
handler should format an error by hand.
*/
package apperr

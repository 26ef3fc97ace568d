/*
Package validate implements the path grammar, content-size ceiling,
and extension/binary classification rules a file write must satisfy
before it reaches the store (C2). Extension and binary classification
are pure functions of a path — callers must never accept these fields
from a client.
*/
package validate

/*
Package elfutil holds the stateless ELF helpers of the module loader: symbol
hashing, alignment, and bounds-checked views over images, symbol tables and
hash tables.

Every offset read from a file is treated as untrusted. Views return
[ErrMalformed] instead of reading outside the bytes they were built from.
*/
package elfutil

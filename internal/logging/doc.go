// Package logging configures structured logging for AmanRepo.
// JSON logs are written to a size-rotated file under ~/.amanrepo/logs/ and,
// optionally, to stderr. Stderr output is human readable on a terminal and
// JSON otherwise so that supervisors can ship it unchanged.
//
// The package also contains a small viewer used by `amanrepo logs` to tail
// and filter the JSON log file.
package logging

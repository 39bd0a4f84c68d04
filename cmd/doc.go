// Package cmd defines the carwatch command line: a cobra root carrying the
// configuration flags and the check subcommand that runs one pass over every
// source and maps the decision to the process exit code.
package cmd

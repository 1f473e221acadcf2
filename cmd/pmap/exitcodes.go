package main

// Exit codes
const (
	ExitSuccess      = 0 // Success
	ExitError        = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError  = 2 // Configuration error (database or input file missing, bad config)
	ExitDataError    = 3 // Data error (schema missing columns, unreadable rows)
	ExitEmptyDataset = 4 // No paper has a position; nothing was computed
)

package models

// Config holds the ambient settings of a timecodes run. None of these
// change what is written to the timecode file.
type Config struct {
	LogLevel     string `json:"log_level"`
	LogOutput    string `json:"log_output"`
	LogDirectory string `json:"log_directory"`
	Timezone     string `json:"timezone"`
	Progress     string `json:"progress"`
}

// DefaultConfig returns the settings used when no environment variable
// overrides them.
func DefaultConfig() Config {
	return Config{
		LogLevel:     "info",
		LogOutput:    "logrus",
		LogDirectory: ".",
		Timezone:     "UTC",
		Progress:     "true",
	}
}

// ShowProgress reports if the indexing progress should be printed.
func (c Config) ShowProgress() bool {
	return c.Progress != "false" && c.Progress != "0"
}

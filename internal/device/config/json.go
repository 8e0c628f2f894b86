package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/devlink/internal/flagx"
	"github.com/dmitrijs2005/devlink/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "30s" and integer nanoseconds.
type JsonConfig struct {
	RelayAddr   string         `json:"relay_addr"`
	RelayWSURL  string         `json:"relay_ws_url"`
	DataDir     string         `json:"data_dir"`
	DeviceName  string         `json:"device_name"`
	PollTimeout timex.Duration `json:"poll_timeout"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; if neither is set, no JSON file is loaded. If the file cannot be
// read or contains invalid JSON, the function panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.RelayAddr = c.RelayAddr
	config.RelayWSURL = c.RelayWSURL
	config.DataDir = c.DataDir
	config.DeviceName = c.DeviceName
	config.PollTimeout = time.Duration(c.PollTimeout.Duration)
}

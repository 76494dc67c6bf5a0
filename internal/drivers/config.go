package drivers

import (
	"encoding/json"
	"fmt"
	"time"
)

// Fields holds the discrete connection form values.
type Fields struct {
	Host     string `json:"host,omitempty"`
	Port     string `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Database string `json:"database,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	Driver   string `json:"driver,omitempty"`
}

// ConnectArgsKey is the options key whose map is forwarded verbatim to the driver.
const ConnectArgsKey = "connect_args"

// Options carries engine-level settings plus a nested connect_args bag.
type Options map[string]any

// ConnectArgs returns the driver-level arguments, or nil.
func (o Options) ConnectArgs() map[string]any {
	if o == nil {
		return nil
	}
	args, _ := o[ConnectArgsKey].(map[string]any)
	return args
}

// Clone returns a deep copy of the top level and the connect_args bag.
func (o Options) Clone() Options {
	if o == nil {
		return nil
	}
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	if args := o.ConnectArgs(); args != nil {
		cp := make(map[string]any, len(args))
		for k, v := range args {
			cp[k] = v
		}
		out[ConnectArgsKey] = cp
	}
	return out
}

// ParseOptions decodes a JSON options payload. Empty input yields nil.
func ParseOptions(raw string) (Options, error) {
	if raw == "" {
		return nil, nil
	}
	var opts Options
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return nil, fmt.Errorf("drivers: decode options: %w", err)
	}
	if args, ok := opts[ConnectArgsKey]; ok && args != nil {
		if _, isMap := args.(map[string]any); !isMap {
			return nil, fmt.Errorf("drivers: %s must be an object", ConnectArgsKey)
		}
	}
	return opts, nil
}

// Config describes one registered connection.
type Config struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Fields    Fields    `json:"fields"`
	URL       string    `json:"url,omitempty"`
	Options   Options   `json:"options,omitempty"`
	Group     string    `json:"group"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

// Redacted returns a copy safe to hand to clients.
func (c Config) Redacted() Config {
	c.Fields.Password = ""
	c.URL = ""
	c.Options = c.Options.Clone()
	return c
}

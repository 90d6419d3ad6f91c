package output

import (
	"encoding/json"

	"github.com/relaypool/relaypool/internal/pool"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatStatus renders the pool status as JSON.
func (f *JSONFormatter) FormatStatus(status *PoolStatus) (string, error) {
	if status == nil {
		return "", nil
	}
	return f.marshal(status)
}

// FormatProbes renders probe results as a JSON array.
func (f *JSONFormatter) FormatProbes(results []pool.ProbeResult) (string, error) {
	if results == nil {
		results = []pool.ProbeResult{}
	}
	return f.marshal(results)
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

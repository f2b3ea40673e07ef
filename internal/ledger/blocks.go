package ledger

type Source string

const (
	SourceOp    Source = "op"
	SourceMsg   Source = "msg"
	SourceSweep Source = "sweep"
)

// BlockEntry is the log line for one executed operation or message.
type BlockEntry struct {
	Height  uint64 `json:"height"`
	Ledger  string `json:"ledger"`
	Source  Source `json:"source"`
	Kind    string `json:"kind"`
	Ref     string `json:"ref,omitempty"`
	From    string `json:"from,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
	At      int64  `json:"at"` // unix micros
}

type BlockLogger interface {
	WriteBlock(e BlockEntry) error
}

// MultiBlockLogger fans an entry out to every non-nil logger and returns
// the first error.
type MultiBlockLogger []BlockLogger

func (m MultiBlockLogger) WriteBlock(e BlockEntry) error {
	var first error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.WriteBlock(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

package ome

import (
	"bytes"

	"github.com/simonhull/bfio/internal/types"
)

// Status reports how a document was decoded.
type Status int

const (
	// OK means the document parsed as written.
	OK Status = iota
	// Repaired means the document parsed only after the repair rules ran.
	Repaired
	// Failed means the document did not parse.
	Failed
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case Repaired:
		return "repaired"
	default:
		return "failed"
	}
}

// RepairWarning is the warning text attached to a repaired decode.
const RepairWarning = "OME XML required reformatting"

// Result is the tagged outcome of Decode.
type Result struct {
	Metadata *types.Metadata
	// Err is the last parse error; set only when Status is Failed.
	Err error
	// Applied names the rules that changed the document, in order.
	Applied []string
	Status  Status
}

// DecodeOptions controls the repair stage.
type DecodeOptions struct {
	// Rules replaces DefaultRules when non-nil.
	Rules []Rule
	// NoRepair disables the repair stage entirely.
	NoRepair bool
}

// Decode parses data. On failure the repair rules are applied in order and
// the result is parsed once more; a second failure is final.
func Decode(data []byte, opts DecodeOptions) Result {
	m, err := parse(data)
	if err == nil {
		return Result{Status: OK, Metadata: m}
	}
	if opts.NoRepair {
		return Result{Status: Failed, Err: err}
	}

	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	fixed, applied := Repair(data, rules)
	if len(applied) == 0 {
		return Result{Status: Failed, Err: err}
	}

	m, err = parse(fixed)
	if err != nil {
		return Result{Status: Failed, Err: err, Applied: applied}
	}
	return Result{Status: Repaired, Metadata: m, Applied: applied}
}

// Repair applies rules to a copy of data and returns the names of the rules
// that changed it.
func Repair(data []byte, rules []Rule) ([]byte, []string) {
	out := bytes.Clone(data)
	var applied []string
	for _, r := range rules {
		next := r.Apply(out)
		if !bytes.Equal(next, out) {
			applied = append(applied, r.Name)
		}
		out = next
	}
	return out, applied
}

// Error converts a failed Result into a *types.MetadataError for path.
// It returns nil for any other status.
func (r Result) Error(path string) error {
	if r.Status != Failed {
		return nil
	}
	return &types.MetadataError{Path: path, Source: "ome-xml", Err: r.Err, Repaired: len(r.Applied) > 0}
}

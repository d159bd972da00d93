package record

import (
	"fmt"
	"strconv"
	"strings"
)

// ESRError is an error code reported by an ESR analyzer in place of a result value.
type ESRError int

// ESR analyzer error codes. Code -6 is not assigned.
const (
	ESRNoFlow       ESRError = -1
	ESRNoSpike      ESRError = -2
	ESRReverse      ESRError = -3
	ESRNoPoints     ESRError = -4
	ESRTooDark      ESRError = -5
	ESRTooClear     ESRError = -7
	ESRWithdrawal   ESRError = -8
	ESRFlowIn       ESRError = -9
	ESRFlowOut      ESRError = -10
	ESRAcquisition  ESRError = -11
	ESRTriggerDelay ESRError = -12
)

var esrErrorText = map[ESRError]string{
	ESRNoFlow:       "no flow detected",
	ESRNoSpike:      "no spike detected",
	ESRReverse:      "reverse flow detected",
	ESRNoPoints:     "insufficient data points",
	ESRTooDark:      "sample too dark",
	ESRTooClear:     "sample too clear",
	ESRWithdrawal:   "withdrawal error",
	ESRFlowIn:       "flow in error",
	ESRFlowOut:      "flow out error",
	ESRAcquisition:  "acquisition error",
	ESRTriggerDelay: "trigger delay error",
}

// Known reports whether e is an assigned error code.
func (e ESRError) Known() bool {
	_, ok := esrErrorText[e]
	return ok
}

func (e ESRError) String() string {
	if s, ok := esrErrorText[e]; ok {
		return s
	}

	return fmt.Sprintf("unknown error code %d", int(e))
}

// Verdict classifies a result value.
type Verdict uint8

const (
	VerdictNormal Verdict = iota
	VerdictBelowRange
	VerdictAboveRange
	VerdictError
	VerdictInvalid
)

func (v Verdict) String() string {
	switch v {
	case VerdictNormal:
		return "normal"
	case VerdictBelowRange:
		return "below range"
	case VerdictAboveRange:
		return "above range"
	case VerdictError:
		return "error"
	case VerdictInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Interpretation is the human-readable reading of a result.
type Interpretation struct {
	Verdict Verdict  `json:"verdict"`
	Code    ESRError `json:"code,omitempty"`
	Text    string   `json:"text"`
}

func (i Interpretation) String() string {
	return i.Text
}

// Interpret reads the result the way an ESR analyzer reports it: negative
// values are error codes, the flags "<" and ">" mark values outside the
// measuring range, anything else must be numeric.
func (r *Result) Interpret() Interpretation {
	v := strings.TrimSpace(r.Value)

	if strings.HasPrefix(v, "-") {
		n, err := strconv.Atoi(v)
		if err == nil {
			code := ESRError(n)
			return Interpretation{Verdict: VerdictError, Code: code, Text: code.String()}
		}

		return Interpretation{Verdict: VerdictInvalid, Text: fmt.Sprintf("invalid result %q", v)}
	}

	switch {
	case r.HasFlag("<"):
		return Interpretation{Verdict: VerdictBelowRange, Text: fmt.Sprintf("below measuring range (%s %s)", v, r.Units)}
	case r.HasFlag(">"):
		return Interpretation{Verdict: VerdictAboveRange, Text: fmt.Sprintf("above measuring range (%s %s)", v, r.Units)}
	}

	n, ok := r.Numeric()
	if !ok {
		return Interpretation{Verdict: VerdictInvalid, Text: fmt.Sprintf("invalid result %q", v)}
	}

	return Interpretation{Verdict: VerdictNormal, Text: strings.TrimSpace(strconv.FormatFloat(n, 'f', -1, 64) + " " + r.Units)}
}

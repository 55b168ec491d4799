package diag

import (
	"fmt"
	"io"
)

// Severity classifies a diagnostic record.
type Severity int

const (
	Warning Severity = iota
	Error
)

func (s Severity) String() string {
	if s == Warning {
		return "warning"
	}
	return "error"
}

// Phase identifies the compiler phase that produced a record.
type Phase int

const (
	Lex Phase = iota
	Parse
	Type
	IR
	Codegen
)

var phaseNames = [...]string{
	Lex:     "Lex",
	Parse:   "Parse",
	Type:    "Type",
	IR:      "IR",
	Codegen: "Codegen",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "Unknown"
}

// Record is one structured diagnostic.
type Record struct {
	Severity Severity
	Phase    Phase
	File     string
	Line     int
	Col      int
	Message  string
}

// String formats the user-visible line for a record:
//
//	Parse error at line L, column C: <message>
//	Warning at line L, column C: <message>
func (r Record) String() string {
	if r.Severity == Warning {
		return fmt.Sprintf("Warning at line %d, column %d: %s", r.Line, r.Col, r.Message)
	}
	return fmt.Sprintf("%s error at line %d, column %d: %s", r.Phase, r.Line, r.Col, r.Message)
}

// Reporter collects diagnostic records append-only. Every compiler phase
// receives the same reporter; there is no global state.
type Reporter struct {
	File     string
	records  []Record
	errors   int
	warnings int
}

// NewReporter creates a reporter for one source file.
func NewReporter(file string) *Reporter {
	return &Reporter{File: file}
}

// Errorf records an error-severity diagnostic.
func (r *Reporter) Errorf(phase Phase, line, col int, format string, args ...any) {
	r.records = append(r.records, Record{
		Severity: Error,
		Phase:    phase,
		File:     r.File,
		Line:     line,
		Col:      col,
		Message:  fmt.Sprintf(format, args...),
	})
	r.errors++
}

// Warnf records a warning-severity diagnostic.
func (r *Reporter) Warnf(phase Phase, line, col int, format string, args ...any) {
	r.records = append(r.records, Record{
		Severity: Warning,
		Phase:    phase,
		File:     r.File,
		Line:     line,
		Col:      col,
		Message:  fmt.Sprintf(format, args...),
	})
	r.warnings++
}

// Records returns all records in emission order.
func (r *Reporter) Records() []Record {
	return r.records
}

// Errors returns the error-severity count.
func (r *Reporter) Errors() int { return r.errors }

// Warnings returns the warning-severity count.
func (r *Reporter) Warnings() int { return r.warnings }

// ExitCode is 0 iff no error-severity record was produced.
func (r *Reporter) ExitCode() int {
	if r.errors > 0 {
		return 1
	}
	return 0
}

// Print writes every record's user-visible line to w.
func (r *Reporter) Print(w io.Writer) {
	for _, rec := range r.records {
		fmt.Fprintln(w, rec.String())
	}
}

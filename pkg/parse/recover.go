package parse

import (
	"strings"

	"github.com/oisee/holyc-aot/pkg/lex"
)

// Strategy selects how the parser resynchronizes after an error.
type Strategy int

const (
	SkipToSemicolon Strategy = iota
	SkipToBrace
	SkipToParen
	SkipToKeyword
	SkipToNewline
	InsertToken // warning-only: pretend the missing token was present
	DeleteToken // warning-only: drop the offending token
	ReplaceToken
	RestartStatement
	RestartFunction
	RestartBlock
)

var strategyNames = [...]string{
	"skip-to-semicolon", "skip-to-brace", "skip-to-paren", "skip-to-keyword",
	"skip-to-newline", "insert-token", "delete-token", "replace-token",
	"restart-statement", "restart-function", "restart-block",
}

func (s Strategy) String() string {
	if int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return "unknown"
}

// strategyFor picks a recovery strategy from the error message context:
// "Expected"/"syntax" skip to the next semicolon, "missing" inserts the
// token, "unexpected" deletes the current token, anything else skips to
// the next semicolon.
func strategyFor(msg string) Strategy {
	lower := strings.ToLower(msg)
	switch {
	// "unexpected" contains "expected", so it is matched first.
	case strings.Contains(lower, "unexpected"):
		return DeleteToken
	case strings.Contains(lower, "expected") || strings.Contains(lower, "syntax"):
		return SkipToSemicolon
	case strings.Contains(lower, "missing"):
		return InsertToken
	default:
		return SkipToSemicolon
	}
}

// recoverFrom applies the strategy chosen for msg. Attempts are
// rate-limited by the configured maximum depth and attempt count; both
// counters reset when a recovery succeeds (the parser resynchronizes on a
// token it can restart from).
func (p *Parser) recoverFrom(msg string) {
	p.recoveryDepth++
	p.recoveryAttempts++
	defer func() { p.recoveryDepth-- }()

	if p.recoveryDepth > p.cfg.MaxRecoveryDepth || p.recoveryAttempts > p.cfg.MaxRecoveryAttempts {
		// Too deep: abandon fine-grained recovery, hard-skip to the next
		// semicolon or closing brace.
		p.skipTo(lex.SEMICOLON, lex.RBRACE)
		return
	}

	switch strategyFor(msg) {
	case InsertToken:
		// The missing token is assumed present; nothing to consume.
	case DeleteToken:
		// Never delete a synchronization token; the enclosing construct
		// needs it to resume.
		switch p.tok.Kind {
		case lex.EOF, lex.SEMICOLON, lex.RBRACE, lex.RPAREN:
		default:
			p.next()
		}
	default:
		p.skipTo(lex.SEMICOLON, lex.RBRACE)
	}

	// Reaching a resynchronization point counts as success.
	p.recoveryAttempts = 0
}

// skipTo consumes tokens until one of the stop kinds or EOF; a matching
// stop semicolon is consumed, a brace is left for the caller. Nested
// braces and parens are balanced while skipping.
func (p *Parser) skipTo(stops ...lex.Kind) {
	braces, parens := 0, 0
	for p.tok.Kind != lex.EOF {
		switch p.tok.Kind {
		case lex.LBRACE:
			braces++
		case lex.RBRACE:
			if braces == 0 {
				return // caller's closing brace
			}
			braces--
		case lex.LPAREN:
			parens++
		case lex.RPAREN:
			if parens > 0 {
				parens--
			}
		}
		if braces == 0 && parens == 0 {
			for _, s := range stops {
				if p.tok.Kind == s {
					if s == lex.SEMICOLON {
						p.next()
					}
					return
				}
			}
		}
		p.next()
	}
}

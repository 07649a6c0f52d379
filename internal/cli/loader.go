package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/token"
	"github.com/jmoiron/sqlx"

	"github.com/roach88/repoql/internal/compiler"
	"github.com/roach88/repoql/internal/engine"
	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/store"
)

// LoadMode controls how errors are handled during contract loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the contracts compiled from a directory.
type LoadResult struct {
	Bundle    *compiler.Bundle
	FileCount int // Number of CUE files found
}

// LoadError represents an error that occurred during contract loading.
type LoadError struct {
	Code    string
	Field   string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadContracts loads and compiles the CUE contract package in dir.
//
// A nil result means nothing could be compiled (missing directory, no CUE
// files, a CUE syntax or unification error). Otherwise the result holds
// what did compile and errs the declarations that did not.
func LoadContracts(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("contracts directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing contracts directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	value, err := compiler.LoadDir(dir)
	if err != nil {
		loadErr := convertCompileError(err)
		if loadErr.Code == ErrCodeGeneric {
			loadErr.Code = ErrCodeLoadFailed
		}
		return nil, []error{loadErr}
	}

	bundle, compileErrs := compiler.Compile(value, mode == LoadModeFailFast)
	errs := make([]error, 0, len(compileErrs))
	for _, err := range compileErrs {
		errs = append(errs, convertCompileError(err))
	}
	return &LoadResult{Bundle: bundle, FileCount: len(cueFiles)}, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with
// position info. The declaration the compiler prefixed ("repository.X")
// is kept in the message.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		message := compileErr.Message
		if decl, _, ok := strings.Cut(err.Error(), ": "); ok && error(compileErr) != err {
			message = decl + ": " + message
		}
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Field:   compileErr.Field,
			Message: message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: err.Error(),
	}
}

// Error code constants - unified across all CLI commands. Engine failures
// keep the engine's own codes (NO_STRATEGY_APPLICABLE, INVALID_QUERY...).
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeUsage       = "E008" // Malformed command argument

	// Declaration errors
	ErrCodeInvalidEntity     = "E010" // Entity, id or field declaration
	ErrCodeInvalidType       = "E011" // Unknown field or parameter type
	ErrCodeInvalidProjection = "E012" // Projection declaration
	ErrCodeInvalidNamedQuery = "E013" // Named query declaration
	ErrCodeInvalidRepository = "E014" // Repository or method declaration
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "cue":
		return ErrCodeBuildFailed
	case field == "entity", field == "id", field == "fields":
		return ErrCodeInvalidEntity
	case field == "type":
		return ErrCodeInvalidType
	case field == "projection", strings.HasPrefix(field, "projection."):
		return ErrCodeInvalidProjection
	case field == "query":
		return ErrCodeInvalidNamedQuery
	case field == "repository", strings.HasPrefix(field, "repository."), field == "methods":
		return ErrCodeInvalidRepository
	default:
		return ErrCodeGeneric
	}
}

// offlineStore stands in for a database when a command only plans
// statements. It renders placeholders for the configured driver and
// refuses to execute anything.
type offlineStore struct {
	dialect ir.Dialect
}

func (s offlineStore) Query(context.Context, store.Request) (*store.RowSet, error) {
	return nil, errors.New("no database connection")
}

func (s offlineStore) Exec(context.Context, store.Request) (int64, error) {
	return 0, errors.New("no database connection")
}

func (s offlineStore) Dialect() ir.Dialect {
	return s.dialect
}

func (s offlineStore) Rebind(query string) string {
	return sqlx.Rebind(sqlx.BindType(string(s.dialect)), query)
}

// register registers contracts on an engine. It stops at the first
// failure unless mode is LoadModeCollectAll; failures are keyed by
// contract name.
func register(e *engine.Engine, contracts []ir.Contract, mode LoadMode) map[string]error {
	failed := make(map[string]error)
	for _, c := range contracts {
		if _, err := e.Register(c); err != nil {
			failed[c.Name] = err
			if mode == LoadModeFailFast {
				break
			}
		}
	}
	return failed
}

// parseTarget splits "Contract.method".
func parseTarget(s string) (contract, method string, err error) {
	contract, method, ok := strings.Cut(s, ".")
	if !ok || contract == "" || method == "" {
		return "", "", fmt.Errorf("target %q must be Contract.method", s)
	}
	return contract, method, nil
}

// planningEngine builds an engine that plans statements for the
// configured driver without connecting to it.
func planningEngine(opts *RootOptions, bundle *compiler.Bundle, logger *slog.Logger) *engine.Engine {
	dialect := ir.Dialect(opts.Config().Database.Driver)
	return engine.New(offlineStore{dialect: dialect}, bundle.Schema, engine.WithLogger(logger))
}

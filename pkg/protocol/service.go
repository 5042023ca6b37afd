package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cgast/jobproto/internal/store"
	"github.com/cgast/jobproto/pkg/spec"
)

// History persists compile runs. *store.BoltStore implements it.
type History interface {
	Put(rec *store.Record) error
	Get(id string) (*store.Record, error)
	List(limit int) ([]*store.Record, error)
}

// Service exposes the compiler over JSON-RPC.
type Service struct {
	compiler *spec.Compiler
	history  History
	logger   *zap.Logger
}

// NewService wires a compiler and an optional history into a Service.
func NewService(compiler *spec.Compiler, history History, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{compiler: compiler, history: history, logger: logger}
}

// Register installs every method of the service on h.
func (s *Service) Register(h *Handler) {
	h.Register(MethodValidate, func(params json.RawMessage) (any, *Error) {
		p, err := ParseParams[ValidateParams](params)
		if err != nil {
			return nil, err
		}
		return s.Validate(p)
	})

	h.Register(MethodCompile, func(params json.RawMessage) (any, *Error) {
		p, err := ParseParams[CompileParams](params)
		if err != nil {
			return nil, err
		}
		return s.Compile(p)
	})

	h.Register(MethodSchema, func(params json.RawMessage) (any, *Error) {
		return spec.SchemaDescription(), nil
	})

	h.Register(MethodHistoryList, func(params json.RawMessage) (any, *Error) {
		p, err := ParseParams[HistoryListParams](params)
		if err != nil {
			return nil, err
		}
		return s.HistoryList(p)
	})

	h.Register(MethodHistoryGet, func(params json.RawMessage) (any, *Error) {
		p, err := ParseParams[HistoryGetParams](params)
		if err != nil {
			return nil, err
		}
		return s.HistoryGet(p)
	})
}

// Validate checks a document without compiling it. An invalid document is a
// successful call with valid=false.
func (s *Service) Validate(p ValidateParams) (*ValidateResult, *Error) {
	tree, rpcErr := p.tree()
	if rpcErr != nil {
		return nil, rpcErr
	}
	result := s.compiler.Validate(spec.NewDocument(tree))
	return &ValidateResult{Valid: result.Valid(), Errors: result.Errors}, nil
}

// Compile runs the full pipeline and records the run in the history, if
// one is configured.
func (s *Service) Compile(p CompileParams) (*CompileResult, *Error) {
	tree, rpcErr := p.tree()
	if rpcErr != nil {
		return nil, rpcErr
	}

	res, err := s.compiler.CompileTree(tree, spec.Request{
		Parameters: p.Parameters,
		Deployment: p.Deployment,
	})
	id := s.record(res, err)
	if err != nil {
		return nil, compileError(err, id)
	}
	return &CompileResult{
		ID:         id,
		Name:       res.Name,
		Stage:      res.StageName,
		Deployment: res.Deployment,
		Descriptor: res.Descriptor,
	}, nil
}

func (s *Service) record(res *spec.Result, err error) string {
	if s.history == nil || res == nil {
		return ""
	}
	rec := store.NewRecord(res, err)
	if putErr := s.history.Put(rec); putErr != nil {
		s.logger.Warn("history write failed", zap.Error(putErr))
		return ""
	}
	return rec.ID
}

// compileError maps pipeline failures to JSON-RPC errors.
func compileError(err error, id string) *Error {
	if diags, ok := spec.IsValidationFailure(err); ok {
		return &Error{Code: CodeProtocolInvalid, Message: err.Error(), Data: diags}
	}
	var data any
	if id != "" {
		data = map[string]string{"id": id}
	}
	switch {
	case errors.Is(err, spec.ErrRender):
		return &Error{Code: CodeRenderFailed, Message: err.Error(), Data: data}
	case errors.Is(err, spec.ErrUnknownDeployment):
		return &Error{Code: CodeUnknownDeployment, Message: err.Error(), Data: data}
	default:
		return &Error{Code: CodeInternalError, Message: err.Error()}
	}
}

// HistoryList returns summaries of recent compile runs, newest first.
func (s *Service) HistoryList(p HistoryListParams) ([]store.Summary, *Error) {
	if s.history == nil {
		return nil, &Error{Code: CodeHistoryDisabled, Message: "history is disabled"}
	}
	records, err := s.history.List(p.Limit)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	out := make([]store.Summary, len(records))
	for i, r := range records {
		out[i] = r.Summary()
	}
	return out, nil
}

// HistoryGet returns one stored compile run.
func (s *Service) HistoryGet(p HistoryGetParams) (*store.Record, *Error) {
	if s.history == nil {
		return nil, &Error{Code: CodeHistoryDisabled, Message: "history is disabled"}
	}
	if p.ID == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid params: id is required"}
	}
	rec, err := s.history.Get(p.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &Error{Code: CodeRecordNotFound, Message: err.Error()}
	}
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return rec, nil
}

// tree parses whichever form of the document the caller sent. The JSON form
// goes through the same YAML decoder as text so integers stay integers.
func (p DocumentParams) tree() (map[string]any, *Error) {
	var data []byte
	switch {
	case len(p.Document) > 0 && p.Source != "":
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid params: document and source are mutually exclusive"}
	case len(p.Document) > 0:
		data = p.Document
	case p.Source != "":
		data = []byte(p.Source)
	default:
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid params: document or source is required"}
	}

	tree, err := spec.ParseTree(data)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return tree, nil
}

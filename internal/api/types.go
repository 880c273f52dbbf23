package api

import (
	"fmt"

	"github.com/athrvk/vayu-sub005/internal/runprofile"
	"github.com/athrvk/vayu-sub005/internal/spec"
)

// authDTO is the wire shape of a request spec's auth descriptor: a
// discriminated union decoded into one of spec.Auth's closed variants.
type authDTO struct {
	Type     string `json:"type"` // none | bearer | basic | api_key
	Token    string `json:"token,omitempty"`
	User     string `json:"user,omitempty"`
	Pass     string `json:"pass,omitempty"`
	Name     string `json:"name,omitempty"`
	Value    string `json:"value,omitempty"`
	Location string `json:"location,omitempty"`
}

func (a authDTO) toAuth() (spec.Auth, error) {
	switch a.Type {
	case "", "none":
		return spec.NoAuth{}, nil
	case "bearer":
		return spec.BearerAuth{Token: a.Token}, nil
	case "basic":
		return spec.BasicAuth{User: a.User, Pass: a.Pass}, nil
	case "api_key":
		loc := spec.AuthLocation(a.Location)
		if loc != spec.AuthLocationHeader && loc != spec.AuthLocationQuery {
			return nil, fmt.Errorf("api_key auth requires location of header or query, got %q", a.Location)
		}
		return spec.APIKeyAuth{Name: a.Name, Value: a.Value, Location: loc}, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", a.Type)
	}
}

// requestDTO is the wire shape of a request spec in POST /runs' body.
type requestDTO struct {
	Method  spec.Method       `json:"method"`
	URL     string            `json:"url"`
	Headers []spec.HeaderPair `json:"headers"`
	Body    []byte            `json:"body,omitempty"`
	MIME    spec.MIMEFamily   `json:"mime,omitempty"`
	Auth    *authDTO          `json:"auth,omitempty"`
	Timeout float64           `json:"timeout_seconds"`
}

func (d requestDTO) toRequest() (*spec.Request, error) {
	auth := spec.Auth(spec.NoAuth{})
	if d.Auth != nil {
		a, err := d.Auth.toAuth()
		if err != nil {
			return nil, err
		}
		auth = a
	}
	r := &spec.Request{
		Method:  d.Method,
		URL:     d.URL,
		Headers: d.Headers,
		Body:    d.Body,
		MIME:    d.MIME,
		Auth:    auth,
		Timeout: d.Timeout,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// createRunRequest is the JSON body for POST /runs.
type createRunRequest struct {
	ProfileName string             `json:"profile_name,omitempty"`
	Profile     runprofile.Profile `json:"profile"`
	Request     requestDTO         `json:"request"`
}

type createRunResponse struct {
	RunID string `json:"run_id"`
}

type stopRunRequest struct {
	WaitForPending bool `json:"wait_for_pending"`
}

type errorResponse struct {
	Error string `json:"error"`
}

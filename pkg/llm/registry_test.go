package llm

import (
	"context"
	"errors"
	"testing"

	pkgerrors "github.com/tombee/murmur/pkg/errors"
)

type stubProvider struct {
	name string
}

func (s *stubProvider) Name() string               { return s.name }
func (s *stubProvider) Capabilities() Capabilities { return Capabilities{} }
func (s *stubProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return &CompletionResponse{Content: "stub"}, nil
}
func (s *stubProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	chunks := make(chan StreamChunk)
	close(chunks)
	return chunks, nil
}

func TestRegistry_FactoryActivation(t *testing.T) {
	reg := NewRegistry()
	created := 0
	reg.RegisterFactory("openai", func(creds Credentials) (Provider, error) {
		created++
		return &stubProvider{name: "openai"}, nil
	})

	if !reg.HasFactory("openai") {
		t.Fatal("factory should be registered")
	}
	if reg.IsActive("openai") {
		t.Fatal("provider should not be active before Activate")
	}

	creds := APIKeyCredentials{APIKey: "sk-test-key-1234"}
	if err := reg.Activate("openai", creds); err != nil {
		t.Fatal(err)
	}
	if !reg.IsActive("openai") {
		t.Error("provider should be active")
	}

	// Second activation is a no-op.
	if err := reg.Activate("openai", creds); err != nil {
		t.Fatal(err)
	}
	if created != 1 {
		t.Errorf("factory ran %d times, want 1", created)
	}
}

func TestRegistry_ActivateUnknownFactory(t *testing.T) {
	reg := NewRegistry()
	err := reg.Activate("nope", APIKeyCredentials{APIKey: "k"})
	if !errors.Is(err, ErrFactoryNotFound) {
		t.Errorf("err = %v, want ErrFactoryNotFound", err)
	}
}

func TestRegistry_GetNotFound(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("missing")
	var nf *pkgerrors.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("err = %v, want NotFoundError", err)
	}
}

func TestRegistry_DefaultProvider(t *testing.T) {
	reg := NewRegistry()

	if _, err := reg.GetDefault(); !errors.Is(err, ErrNoDefaultProvider) {
		t.Errorf("err = %v, want ErrNoDefaultProvider", err)
	}

	if err := reg.Register(&stubProvider{name: "gemini"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetDefault("gemini"); err != nil {
		t.Fatal(err)
	}
	p, err := reg.GetDefault()
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "gemini" {
		t.Errorf("default = %s", p.Name())
	}
}

func TestRegistry_UnregisterDefaultRefused(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&stubProvider{name: "openai"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetDefault("openai"); err != nil {
		t.Fatal(err)
	}

	err := reg.Unregister("openai")
	var ve *pkgerrors.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestRegistry_DuplicateRegister(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&stubProvider{name: "openai"}); err != nil {
		t.Fatal(err)
	}
	err := reg.Register(&stubProvider{name: "openai"})
	if !errors.Is(err, ErrProviderAlreadyRegistered) {
		t.Errorf("err = %v, want ErrProviderAlreadyRegistered", err)
	}
}

func TestRegistry_List(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"gemini", "openai"} {
		if err := reg.Register(&stubProvider{name: name}); err != nil {
			t.Fatal(err)
		}
	}
	got := reg.List()
	if len(got) != 2 || got[0] != "gemini" || got[1] != "openai" {
		t.Errorf("List() = %v, want sorted [gemini openai]", got)
	}
}

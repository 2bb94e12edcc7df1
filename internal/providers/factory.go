package providers

import (
	"fmt"
	"sort"

	"github.com/docmesh/graphrag-backend/internal/clients/anthropic"
	"github.com/docmesh/graphrag-backend/internal/clients/openai"
	apperrors "github.com/docmesh/graphrag-backend/internal/pkg/errors"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

// Factory resolves the provider for a document's model selection.
type Factory interface {
	ForModel(model string) (Provider, error)
	Models() []string
}

type factory struct {
	providers map[string]Provider
}

// Clients carries the configured vendor clients; nil entries disable the
// matching provider. Embedder must be an OpenAI client with embedding access
// and is required whenever any provider is configured.
type Clients struct {
	Anthropic anthropic.Client
	OpenAI    openai.Client
	Kimi      openai.Client
	DeepSeek  openai.Client
	Embedder  openai.Client
}

func NewFactory(baseLog *logger.Logger, clients Clients) (Factory, error) {
	f := &factory{providers: map[string]Provider{}}

	if clients.Anthropic != nil {
		p, err := NewAnthropicProvider(baseLog, clients.Anthropic, clients.Embedder)
		if err != nil {
			return nil, err
		}
		f.providers[p.Name()] = p
	}
	if clients.OpenAI != nil {
		p, err := NewOpenAIProvider(baseLog, clients.OpenAI)
		if err != nil {
			return nil, err
		}
		f.providers[p.Name()] = p
	}
	if clients.Kimi != nil {
		p, err := NewSyncProvider(baseLog, "kimi", clients.Kimi, clients.Embedder)
		if err != nil {
			return nil, err
		}
		f.providers[p.Name()] = p
	}
	if clients.DeepSeek != nil {
		p, err := NewSyncProvider(baseLog, "deepseek", clients.DeepSeek, clients.Embedder)
		if err != nil {
			return nil, err
		}
		f.providers[p.Name()] = p
	}

	if len(f.providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}
	return f, nil
}

// NewFactoryFromProviders wires pre-built providers, used by tests to inject
// a fake.
func NewFactoryFromProviders(provs ...Provider) Factory {
	f := &factory{providers: map[string]Provider{}}
	for _, p := range provs {
		if p != nil {
			f.providers[p.Name()] = p
		}
	}
	return f
}

func (f *factory) ForModel(model string) (Provider, error) {
	p, ok := f.providers[model]
	if !ok {
		return nil, fmt.Errorf("%w: model %q is not configured", apperrors.ErrInvalidArgument, model)
	}
	return p, nil
}

func (f *factory) Models() []string {
	out := make([]string, 0, len(f.providers))
	for name := range f.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

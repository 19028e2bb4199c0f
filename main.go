package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	hostx "github.com/tanpawarit/chative-coco/agent/agents/host"
	componentx "github.com/tanpawarit/chative-coco/agent/component"
	contractx "github.com/tanpawarit/chative-coco/agent/contract"
	domainx "github.com/tanpawarit/chative-coco/agent/domain"
	policyx "github.com/tanpawarit/chative-coco/agent/policy"
	statex "github.com/tanpawarit/chative-coco/agent/state"
	cocox "github.com/tanpawarit/chative-coco/pkg/coco"
	configx "github.com/tanpawarit/chative-coco/pkg/config"
	_ "github.com/tanpawarit/chative-coco/pkg/logger/autoload"
)

type AppConfig struct {
	DomainFile   string `envconfig:"DOMAIN_FILE" default:"domain.yml"`
	TrackerStore string `envconfig:"TRACKER_STORE" default:"memory"`
	PolicyDir    string `envconfig:"POLICY_DIR"`
}

var senderFlag = flag.String("sender", "", "conversation sender id (random when empty)")

func main() {
	if err := run(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("shell stopped")
	}
}

func run(ctx context.Context) error {
	appCfg := configx.MustNew[AppConfig]("APP")
	cocoCfg := configx.MustNew[cocox.Config]("COCO")

	domain, err := domainx.Load(appCfg.DomainFile)
	if err != nil {
		return err
	}

	store, closeStore, err := newStore(ctx, appCfg.TrackerStore, domain.Policies.MaxEvents)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn().Err(err).Msg("close tracker store")
		}
	}()

	client, err := cocox.NewClient(*cocoCfg)
	if err != nil {
		return err
	}

	host, err := newHost(domain, store, client, appCfg.PolicyDir)
	if err != nil {
		return err
	}

	senderID := strings.TrimSpace(*senderFlag)
	if senderID == "" {
		senderID = uuid.NewString()
	}
	log.Info().Str("sender_id", senderID).Str("store", appCfg.TrackerStore).Msg("shell ready")

	return shell(ctx, host, senderID)
}

// newStore returns the configured tracker store and the func that releases it.
func newStore(ctx context.Context, kind string, maxEvents int) (statex.Store, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "memory":
		return statex.NewMemoryStore(), noop, nil
	case "upstash":
		cfg, err := configx.New[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		if err != nil {
			return nil, nil, err
		}
		store, err := statex.NewUpstashRedisStore(*cfg, statex.WithMaxEvents(max(maxEvents, 0)))
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case "postgres":
		cfg, err := configx.New[statex.PostgresConfig]("POSTGRES")
		if err != nil {
			return nil, nil, err
		}
		store, err := statex.NewPostgresStore(ctx, *cfg)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown tracker store %q", kind)
	}
}

func newHost(domain *domainx.Domain, store statex.Store, client contractx.ComponentClient, policyDir string) (*hostx.Host, error) {
	contextPolicy, err := newContextPolicy(domain.Policies.ContextPriority, policyDir)
	if err != nil {
		return nil, err
	}

	ensemble, err := policyx.NewEnsemble(
		policyx.NewMappingPolicy(domain.Mappings, domain.Policies.MappingPriority),
		policyx.NewFallbackPolicy(domain.Policies.Threshold(), domain.Policies.FallbackAction, domain.Policies.FallbackPriority),
		contextPolicy,
	)
	if err != nil {
		return nil, err
	}

	components, err := componentx.NewActions(domain.Components, client)
	if err != nil {
		return nil, err
	}
	actions := make([]contractx.Action, 0, len(components))
	for _, a := range components {
		actions = append(actions, a)
	}

	return hostx.New(store, domain, ensemble, actions...)
}

// newContextPolicy restores the context policy from dir. A dir without a
// persisted policy gets one written with the domain priority.
func newContextPolicy(priority int, dir string) (*policyx.ContextPolicy, error) {
	p := policyx.NewContextPolicy(priority)
	if dir == "" {
		return p, nil
	}
	if _, err := os.Stat(policyx.ContextPolicyPath(dir)); errors.Is(err, os.ErrNotExist) {
		return p, p.Persist(dir)
	}
	return policyx.LoadContextPolicy(dir)
}

// shell reads "/intent text" or plain text lines. Plain text carries no intent.
func shell(ctx context.Context, host *hostx.Host, senderID string) error {
	rl, err := readline.New("> ")
	if err != nil {
		return err
	}
	defer func() {
		_ = rl.Close()
	}()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/restart" {
			if err := host.Reset(ctx, senderID); err != nil {
				fmt.Println(err)
			}
			continue
		}

		reply, err := host.HandleMessage(ctx, parseLine(senderID, line))
		if err != nil {
			fmt.Println(err)
			continue
		}
		for _, m := range reply.Messages {
			fmt.Println(m)
		}
	}
}

func parseLine(senderID, line string) hostx.Message {
	msg := hostx.Message{SenderID: senderID, Text: line}
	if !strings.HasPrefix(line, "/") {
		return msg
	}

	intent, text, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	msg.Intent = intent
	msg.Confidence = 1
	if text = strings.TrimSpace(text); text != "" {
		msg.Text = text
	}
	return msg
}

package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/cortexmem/cortex/pkg/llms"
	"github.com/cortexmem/cortex/pkg/model"
	"github.com/cortexmem/cortex/pkg/store"
)

const profileSystem = `You write a terse user profile from an agent's long-term memories. Third person, present tense, at most 150 words. Cover identity, preferences, constraints, and current projects if present. Respond with ONLY the profile text.`

// profilePass condenses each agent's core memories into a profile string
// kept in agent metadata. The sieve injects it into extraction prompts.
func (e *Engine) profilePass(ctx context.Context, r *Report, dryRun bool) {
	if e.llm == nil {
		return
	}

	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		e.fail(r, "profile", err)
		return
	}

	for _, a := range agents {
		mems, err := e.store.List(ctx, store.ListFilter{
			AgentID: a.ID,
			Layer:   model.LayerCore,
			Limit:   50,
		})
		if err != nil {
			e.fail(r, "profile", err)
			continue
		}
		if len(mems) == 0 {
			continue
		}
		if dryRun {
			r.ProfilesUpdated++
			continue
		}

		profile, err := e.synthesizeProfile(ctx, mems)
		if err != nil {
			e.fail(r, "profile", err)
			continue
		}
		if err := e.store.SetAgentMetadataKey(ctx, a.ID, model.ProfileMetadataKey, profile); err != nil {
			e.fail(r, "profile", err)
			continue
		}
		r.ProfilesUpdated++
	}
}

func (e *Engine) synthesizeProfile(ctx context.Context, mems []*model.Memory) (string, error) {
	var sb strings.Builder
	for _, m := range mems {
		fmt.Fprintf(&sb, "- [%s] %s\n", m.Category, m.Content)
	}

	resp, err := e.llm.Complete(ctx, llms.CompletionRequest{
		System:    profileSystem,
		Messages:  []llms.Message{{Role: llms.RoleUser, Content: sb.String()}},
		MaxTokens: 512,
	})
	if err != nil {
		return "", err
	}
	profile := strings.TrimSpace(resp.Text)
	if profile == "" {
		return "", fmt.Errorf("profile synthesis produced empty text")
	}
	return profile, nil
}

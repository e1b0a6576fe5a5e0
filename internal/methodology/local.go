// Package methodology provides reference implementations of
// contracts.MethodologyPlugin: the capability supplement that resolves
// where a project's structured-methodology skill/rule directories live
// on disk, for the Prompt Composer to symlink into a session workspace
// (spec §4.C step 5). The content itself — what those directories
// contain — is explicitly out of scope; these plugins only resolve and,
// for the GitHub-backed variant, stage a path.
package methodology

import "context"

// LocalPlugin satisfies contracts.MethodologyPlugin for methodology
// content that already lives on the local filesystem (e.g. checked out
// alongside the orchestrator, or mounted into its container). No staging
// is needed — ContentRoot returns the configured root directly.
type LocalPlugin struct {
	root    string
	subdirs []string
}

// NewLocalPlugin returns a LocalPlugin rooted at root, exposing subdirs
// for symlinking.
func NewLocalPlugin(root string, subdirs ...string) *LocalPlugin {
	return &LocalPlugin{root: root, subdirs: subdirs}
}

func (p *LocalPlugin) ContentRoot(ctx context.Context) (string, error) {
	return p.root, nil
}

func (p *LocalPlugin) SubdirNames() []string { return p.subdirs }

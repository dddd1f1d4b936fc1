package trainer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"aicaptcha/internal/classifier"
)

// Placeholders substituted in command arguments.
const (
	CorpusPlaceholder   = "{corpus}"
	ArtifactPlaceholder = "{artifact}"
)

// CommandTrainer runs a local program. The program reads the corpus file and
// writes the artifact file whose paths are passed through its arguments.
type CommandTrainer struct {
	command string
	args    []string
	workDir string
	logger  *zap.Logger
}

func NewCommandTrainer(command string, args []string, workDir string, logger *zap.Logger) *CommandTrainer {
	return &CommandTrainer{
		command: command,
		args:    args,
		workDir: workDir,
		logger:  logger,
	}
}

// Train writes the corpus, runs the program and loads its artifact. The
// scratch files are removed afterwards.
func (t *CommandTrainer) Train(ctx context.Context, corpus *Corpus) (*classifier.Artifact, error) {
	workDir, err := filepath.Abs(t.workDir)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid work dir: %v", ErrTrainerFailed, err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create work dir: %v", ErrTrainerFailed, err)
	}

	stamp := time.Now().UTC().Format("20060102T150405.000000000")
	corpusPath := filepath.Join(workDir, "corpus-"+stamp+".json")
	artifactPath := filepath.Join(workDir, "artifact-"+stamp+".json")
	defer os.Remove(corpusPath)
	defer os.Remove(artifactPath)

	data, err := json.Marshal(corpus)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode corpus: %v", ErrTrainerFailed, err)
	}
	if err := os.WriteFile(corpusPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("%w: failed to write corpus: %v", ErrTrainerFailed, err)
	}

	args := make([]string, len(t.args))
	for i, a := range t.args {
		a = strings.ReplaceAll(a, CorpusPlaceholder, corpusPath)
		args[i] = strings.ReplaceAll(a, ArtifactPlaceholder, artifactPath)
	}

	cmd := exec.CommandContext(ctx, t.command, args...)
	cmd.Dir = workDir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	t.logger.Info("Starting trainer command",
		zap.String("command", t.command),
		zap.Strings("args", args),
		zap.Int("rows", len(corpus.Rows)))

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s exited: %v: %s", ErrTrainerFailed, t.command, err, tail(output.String(), 2048))
	}

	artifact, err := classifier.LoadArtifact(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrainerFailed, err)
	}
	return artifact, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

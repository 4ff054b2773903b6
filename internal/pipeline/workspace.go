package pipeline

import (
	"fmt"
	"path/filepath"

	"ytaudio/internal/jobs"
)

// workspace is a job-private temporary directory.
type workspace struct {
	dir string
}

func (w workspace) path(name string) string {
	return filepath.Join(w.dir, name)
}

func (e *Executor) createWorkspace(run *jobRun) (workspace, error) {
	dir, err := e.mkdirTemp(e.settings.Temp.Directory, fmt.Sprintf("ytaudio-%s-*", jobs.ShortID(run.job.ID)))
	if err != nil {
		return workspace{}, err
	}
	return workspace{dir: dir}, nil
}

// releaseWorkspace removes the workspace unless the job asked to keep it.
func (e *Executor) releaseWorkspace(run *jobRun, ws workspace) {
	if ws.dir == "" {
		return
	}
	if run.job.Options.KeepTemp {
		e.logger.Info("keeping workspace", "job", run.job.ID, "dir", ws.dir)
		return
	}
	if err := e.removeAll(ws.dir); err != nil {
		e.logger.Warn("remove workspace", "job", run.job.ID, "dir", ws.dir, "error", err)
	}
}

// discardPartial removes a failed attempt's output so the next attempt starts clean.
func discardPartial(remove func(string) error, path string) {
	if path != "" {
		_ = remove(path)
	}
}

package recipe

import (
	"fmt"

	"github.com/goplus/pkgbuild/internal/task"
)

func (r *Recipe) defineLockfile(reg *task.Registry) {
	reg.Namespace("lockfile", func(ns *task.Scope) {
		ns.Define("update", nil, func(ctx *task.Context) error {
			_, err := ctx.WithDir(r.cfg.GemfileDir).Output("bundle", "package", "--no-install", "--cache-path="+r.cfg.DownloadsDir)
			if err != nil {
				return fmt.Errorf("update Gemfile.lock: %w", err)
			}
			return nil
		}).Describe("Update lockfile")
	})
}

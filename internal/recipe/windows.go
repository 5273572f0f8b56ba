package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/goplus/pkgbuild/internal/task"
)

func (r *Recipe) defineWindows(reg *task.Registry) {
	r.sets.Clean(
		"msi/env.bat",
		"msi/parameters.wxi",
		"msi/project-files.wxs",
		"msi/*.wixobj",
		"msi/*.wixpdb",
	)
	r.sets.Clobber("msi/*.msi")

	reg.Namespace("msi", func(ns *task.Scope) {
		ns.Define("build", []string{"dockerbuild"}).
			Describe("Build MSI package (alias for msi:dockerbuild)")
		ns.Define("selfbuild", []string{":build:msi_config", ":build:all"}, r.buildMSI).
			Describe("Build MSI package without using Docker")
		ns.Define("dockerbuild", []string{r.work(r.archiveName())}, r.runWindowsDocker).
			Describe("Build MSI package by Docker")
	})
}

// buildMSI harvests the staging directory and compiles and links the
// installer with the WiX toolset.
func (r *Recipe) buildMSI(ctx *task.Context) error {
	bin, err := r.cfg.WixBinDir()
	if err != nil {
		return err
	}
	arch, err := r.cfg.MSIArch()
	if err != nil {
		return err
	}
	output := r.cfg.MSIOutputDir
	if err := os.MkdirAll(output, 0o755); err != nil {
		return err
	}
	staging := r.cfg.StagingDir

	c := ctx.WithDir(r.work("msi"))
	if err := c.Run(filepath.Join(bin, "heat"),
		"dir", staging,
		"-nologo",
		"-srd",  // no root directory element
		"-sreg", // no registry harvesting
		"-gg",
		"-cg", "ProjectDir",
		"-dr", "PROJECTLOCATION",
		"-var", "var.ProjectSourceDir",
		"-t", "exclude-files.xslt",
		"-out", "project-files.wxs",
	); err != nil {
		return err
	}
	if err := c.Run(filepath.Join(bin, "candle"),
		"-nologo",
		"-dProjectSourceDir="+staging,
		"-arch", arch,
		"project-files.wxs",
		"source.wxs",
	); err != nil {
		return err
	}
	return c.Run(filepath.Join(bin, "light"),
		"-nologo",
		"-ext", "WixUIExtension",
		"-ext", "WixUtilExtension", // QuietExec
		"-cultures:en-us",
		"-loc", "localization-en-us.wxl",
		"project-files.wixobj",
		"source.wixobj",
		"-out", filepath.Join(output, fmt.Sprintf("%s-%s-%s.msi", r.cfg.Package, r.cfg.Version, arch)),
	)
}

// runWindowsDocker builds the installer inside a Windows container.
func (r *Recipe) runWindowsDocker(ctx *task.Context) error {
	arch, err := r.cfg.MSIArch()
	if err != nil {
		return err
	}
	pkg := r.cfg.Package
	env := fmt.Sprintf("SET PACKAGE=%s\nSET VERSION=%s\nSET ARCH=%s\n", pkg, r.cfg.Version, arch)
	if err := os.WriteFile(r.work("msi", "env.bat"), []byte(env), 0o644); err != nil {
		return err
	}

	top := filepath.Dir(r.cfg.WorkDir)
	tag := pkg + "-windows-" + arch
	docker := r.cfg.DockerCommand()
	build := append(slices.Clone(docker[1:]), "build", "--tag", tag, r.work("msi"))
	if err := ctx.Run(docker[0], build...); err != nil {
		return err
	}
	run := append(slices.Clone(docker[1:]),
		"run",
		"--rm",
		"--tty",
		"--volume", top+":c:/fluent-package-builder:rw",
		tag,
		`c:\fluent-package-builder\`+pkg+`\msi\build.bat`,
	)
	return ctx.Run(docker[0], run...)
}

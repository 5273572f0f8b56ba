package recipe

import (
	"os"
	"path/filepath"

	"github.com/goplus/pkgbuild/internal/render"
	"github.com/goplus/pkgbuild/internal/task"
	"github.com/goplus/pkgbuild/pkgs/versions"
)

var debianScripts = []string{"preinst", "postinst", "postrm"}

func (r *Recipe) defineConfigs(reg *task.Registry) {
	pkg := r.cfg.Package
	for _, script := range debianScripts {
		r.sets.Clean(filepath.Join("..", "debian", script))
	}

	reg.Namespace("build", func(ns *task.Scope) {
		ns.Define("deb_scripts", nil, r.renderDebianScripts).
			Describe("Create debian package script files from template")
		ns.Define("td_agent_config", nil, r.renderPackageConfig).
			Describe("Create " + pkg + " configuration files from template")
		ns.Define("systemd_tmpfiles_config", nil, func(*task.Context) error {
			config := filepath.Join("usr", "lib", "tmpfiles.d", pkg+".conf")
			return r.render(r.staging(config), r.template(config), nil)
		}).Describe("Create systemd-tmpfiles configuration files from template")
		ns.Define("bin_scripts", nil, r.renderBinScripts).
			Describe("Create bin script files from template")
		ns.Define("launchctl_config", nil, func(*task.Context) error {
			config := pkg + ".plist"
			return r.render(r.staging("Library", "LaunchDaemons", config), r.template(config+".tmpl"), nil)
		}).Describe("Create launchctl configuration files from template")
		ns.Define("win_batch_files", nil, r.installBatchFiles).
			Describe("Install additional .bat files for Windows")
		ns.Define("rpm_systemd", nil, func(*task.Context) error {
			return r.renderSystemd("rpm", r.staging("usr", "lib", "systemd", "system", pkg+".service"))
		}).Describe("Create systemd unit file for Red Hat like systems")
		ns.Define("rpm_sysvinit", nil, func(*task.Context) error {
			return r.render(r.staging("etc", "init.d", pkg), r.template("etc", "init.d", pkg+".tmpl"),
				render.Params{"pkg_type": "rpm"}, render.Mode(0o755))
		}).Describe("Create sysv init file for Red Hat like systems")
		ns.Define("deb_systemd", nil, func(*task.Context) error {
			return r.renderSystemd("deb", r.staging("lib", "systemd", "system", pkg+".service"))
		}).Describe("Create systemd unit file for Debian like systems")
		ns.Define("wix_config", nil, r.renderWixConfig).
			Describe("Create config files for WiX Toolset")
		ns.Define("pkgbuild_config", nil, func(*task.Context) error {
			dir := r.work("dmg", "resources", "pkg")
			return r.render(filepath.Join(dir, "Distribution.xml"), filepath.Join(dir, "Distribution.xml.tmpl"),
				render.Params{"pkg_version": r.cfg.Version})
		}).Describe("Create config file for macOS Installer")
		ns.Define("pkgbuild_scripts", nil, func(*task.Context) error {
			dir := r.work("dmg", "resources", "pkg")
			return r.render(filepath.Join(dir, "scripts", "postinstall"), filepath.Join(dir, "postinstall.tmpl"),
				render.Params{"pkg_version": r.cfg.Version}, render.Mode(0o755))
		}).Describe("Create pkg scripts for macOS Installer")

		ns.Define("rpm_config", []string{"td_agent_config", "systemd_tmpfiles_config", "bin_scripts", "rpm_systemd"}).
			Describe("Create configuration files for Red Hat like systems with systemd")
		ns.Define("rpm_old_config", []string{"td_agent_config", "bin_scripts", "rpm_sysvinit"}).
			Describe("Create configuration files for Red Hat like systems without systemd")
		ns.Define("deb_config", []string{"td_agent_config", "systemd_tmpfiles_config", "bin_scripts", "deb_systemd", "deb_scripts"}).
			Describe("Create configuration files for Debian like systems")
		ns.Define("msi_config", []string{"td_agent_config", "wix_config", "win_batch_files"}).
			Describe("Create configuration files for Windows")
		ns.Define("dmg_config", []string{"td_agent_config", "pkgbuild_scripts", "pkgbuild_config", "bin_scripts", "launchctl_config"}).
			Describe("Create configuration files for macOS")
	})
}

// renderDebianScripts writes the maintainer scripts into the top level
// debian directory, where the build container picks them up. Scripts
// without a template are skipped.
func (r *Recipe) renderDebianScripts(*task.Context) error {
	for _, script := range debianScripts {
		src := r.template("package-scripts", r.cfg.Package, "deb", script)
		if !exists(src) {
			continue
		}
		dest := r.work("..", "debian", script)
		if err := r.render(dest, src, nil, render.Mode(0o755)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recipe) renderPackageConfig(*task.Context) error {
	pkg := r.cfg.Package
	share := filepath.Join("opt", pkg, "share")
	mainConfig := filepath.Join("etc", pkg, pkg+".conf")
	configs := []string{mainConfig}
	if !r.cfg.IsWindows() && !r.cfg.IsMacOS() {
		configs = append(configs,
			filepath.Join("etc", "logrotate.d", pkg),
			filepath.Join(share, pkg+"-ruby.conf"),
			filepath.Join(share, pkg+".conf.tmpl"),
		)
	}
	for _, config := range configs {
		src := r.template(config)
		if config == mainConfig {
			src = r.template(share, pkg+".conf.tmpl")
		}
		if err := r.render(r.staging(config), src, nil); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recipe) renderBinScripts(*task.Context) error {
	pkg := r.cfg.Package
	for _, script := range []string{
		filepath.Join("usr", "bin", "td"),
		filepath.Join("usr", "sbin", pkg),
		filepath.Join("usr", "sbin", pkg+"-gem"),
	} {
		dest := r.staging(script)
		if r.cfg.IsMacOS() {
			dest = r.staging("opt", pkg, script)
		}
		if err := r.render(dest, r.template(script+".tmpl"), nil, render.Mode(0o755)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recipe) installBatchFiles(*task.Context) error {
	pkg := r.cfg.Package
	if err := os.MkdirAll(r.bindir(), 0o755); err != nil {
		return err
	}
	assets := r.work("msi", "assets")
	if err := copyFile(filepath.Join(assets, pkg+"-prompt.bat"), r.cfg.PackageStagingDir()); err != nil {
		return err
	}
	for _, name := range []string{pkg + "-post-install.bat", pkg + ".bat", pkg + "-gem.bat", pkg + "-version.rb"} {
		if err := copyFile(filepath.Join(assets, name), r.bindir()); err != nil {
			return err
		}
	}
	return nil
}

// renderSystemd writes the unit file to dest and its environment file to
// etc/default (deb) or etc/sysconfig (rpm).
func (r *Recipe) renderSystemd(pkgType, dest string) error {
	pkg := r.cfg.Package
	params := render.Params{"pkg_type": pkgType}
	if err := r.render(dest, r.template("etc", "systemd", pkg+".service.tmpl"), params); err != nil {
		return err
	}
	envDir := "sysconfig"
	if pkgType == "deb" {
		envDir = "default"
	}
	return r.render(r.staging("etc", envDir, pkg), r.template("etc", "systemd", pkg+".tmpl"), params)
}

// renderWixConfig writes msi/parameters.wxi. Prerelease revisions take the
// hour of the configured release time.
func (r *Recipe) renderWixConfig(*task.Context) error {
	released, err := r.cfg.Released()
	if err != nil {
		return err
	}
	version, err := versions.Wix(r.cfg.Version, released.Hour())
	if err != nil {
		return err
	}
	return r.render(r.work("msi", "parameters.wxi"), r.work("msi", "parameters.wxi.tmpl"),
		render.Params{"wix_package_version": version})
}

package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goplus/pkgbuild/internal/render"
	"github.com/goplus/pkgbuild/internal/task"
	"github.com/qiniu/x/log"
)

func (r *Recipe) defineMacOS(reg *task.Registry) {
	pkg := r.cfg.Package
	r.sets.Clean(
		"dmg/"+pkg+".icns",
		"dmg/"+pkg+".rsrc",
		"dmg/resources/pkg/Distribution.xml",
		"dmg/resources/pkg/scripts/postinstall",
		"dmg/resources/dmg/"+pkg+".osascript",
	)
	r.sets.Clobber(
		"dmg/*.pkg",
		"dmg/*.dmg",
		"dmg/"+pkg+".iconset",
		"dmg/dmg",
	)

	reg.Namespace("dmg", func(ns *task.Scope) {
		ns.Define("selfbuild", []string{":build:dmg_config", ":build:all"}, r.buildDMG).
			Describe("Build macOS package")
	})
}

// buildDMG builds the flat and the distributable installer packages and
// wraps the latter in a compressed disk image.
func (r *Recipe) buildDMG(ctx *task.Context) error {
	arch, err := r.cfg.DarwinArch()
	if err != nil {
		return err
	}
	pkg, version := r.cfg.Package, r.cfg.Version
	output := r.cfg.PkgOutputDir
	if err := os.MkdirAll(output, 0o755); err != nil {
		return err
	}
	flat := filepath.Join(output, pkg+".pkg")
	dist := filepath.Join(output, pkg+"-"+version+".pkg")

	c := ctx.WithDir(r.work("dmg"))
	res := filepath.Join("resources", "pkg")
	if err := c.Run("pkgbuild",
		"--root", r.cfg.StagingDir,
		"--component-plist", filepath.Join(res, pkg+".plist"),
		"--identifier", r.cfg.Identifier,
		"--version", version,
		"--scripts", filepath.Join(res, "scripts"),
		"--install-location", "/",
		flat,
	); err != nil {
		return err
	}
	if err := c.Run("productbuild",
		"--distribution", filepath.Join(res, "Distribution.xml"),
		"--package-path", flat,
		"--resources", filepath.Join(res, "assets"),
		dist,
	); err != nil {
		return err
	}
	if err := copyFile(dist, c.Abs("dmg")); err != nil {
		return err
	}

	img := &diskImage{
		ctx:          c,
		volume:       pkg,
		pkgName:      filepath.Base(dist),
		name:         fmt.Sprintf("%s-%s-%s.dmg", pkg, version, arch),
		tempName:     fmt.Sprintf("rw.%s-%s-%s.dmg", pkg, version, arch),
		iconset:      pkg + ".iconset",
		osascript:    filepath.Join("resources", "dmg", pkg+".osascript"),
		windowBounds: "100, 100, 750, 600",
		pkgPosition:  "535, 50",
	}
	return img.build()
}

// diskImage turns the dmg folder of ctx.Dir into a compressed, decorated
// disk image.
type diskImage struct {
	ctx *task.Context

	volume       string
	pkgName      string
	name         string
	tempName     string
	iconset      string
	osascript    string
	windowBounds string
	pkgPosition  string

	device string
}

func (d *diskImage) build() error {
	steps := []func() error{
		d.detachStale,
		d.removeImages,
		d.createRW,
		d.attach,
		d.setVolumeIcon,
		d.writeScript,
		d.prettify,
		d.compress,
		d.setIcon,
		d.verify,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return os.Remove(d.ctx.Abs(d.tempName))
}

func (d *diskImage) mountPoint() string {
	return "/Volumes/" + d.volume
}

// detachStale detaches volumes left mounted by an earlier run.
func (d *diskImage) detachStale() error {
	out, err := d.ctx.Output("mount")
	if err != nil {
		return fmt.Errorf("search mounted disks: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || !strings.Contains(line, d.mountPoint()) {
			continue
		}
		if err := d.ctx.Run("hdiutil", "detach", fields[0]); err != nil {
			return err
		}
	}
	return nil
}

func (d *diskImage) removeImages() error {
	for _, name := range []string{d.name, d.tempName} {
		if err := os.Remove(d.ctx.Abs(name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (d *diskImage) createRW() error {
	return d.ctx.Run("hdiutil",
		"create", "-ov",
		"-srcfolder", "dmg",
		"-format", "UDRW",
		"-volname", d.volume,
		d.tempName)
}

// attach mounts the writable image and remembers its device.
func (d *diskImage) attach() error {
	out, err := d.ctx.Output("hdiutil", "attach", "-readwrite", "-noverify", "-noautoopen", d.tempName)
	if err != nil {
		return fmt.Errorf("attach disk image: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "/dev/") {
			d.device = strings.Fields(line)[0]
			break
		}
	}
	if d.device == "" {
		return fmt.Errorf("attach disk image: no device in %q", out)
	}
	// Finder needs time to notice the volume
	return sleep(d.ctx, 10*time.Second)
}

var iconSizes = []struct {
	name string
	px   int
}{
	{"icon_16x16.png", 16},
	{"icon_16x16@2x.png", 32},
	{"icon_32x32.png", 32},
	{"icon_32x32@2x.png", 64},
	{"icon_128x128.png", 128},
	{"icon_128x128@2x.png", 256},
	{"icon_256x256.png", 256},
	{"icon_256x256@2x.png", 512},
	{"icon_512x512.png", 512},
	{"icon_512x512@2x.png", 1024},
}

func (d *diskImage) setVolumeIcon() error {
	icon := filepath.Join("resources", "dmg", "icon.png")
	if err := os.MkdirAll(d.ctx.Abs(d.iconset), 0o755); err != nil {
		return err
	}
	for _, s := range iconSizes {
		px := strconv.Itoa(s.px)
		if err := d.ctx.Run("sips", "-z", px, px, icon, "--out", filepath.Join(d.iconset, s.name)); err != nil {
			return err
		}
	}
	if err := d.ctx.Run("iconutil", "-c", "icns", d.iconset); err != nil {
		return err
	}
	icns := strings.TrimSuffix(d.iconset, ".iconset") + ".icns"
	volumeIcon := filepath.Join(d.mountPoint(), ".VolumeIcon.icns")
	if err := copyFile(d.ctx.Abs(icns), volumeIcon); err != nil {
		return err
	}
	if err := d.ctx.Run("SetFile", "-c", "icnC", volumeIcon); err != nil {
		return err
	}
	return d.ctx.Run("SetFile", "-a", "C", d.mountPoint())
}

const finderScript = `set found_disk to do shell script "ls /Volumes/ | grep '{{.volume_name}}*'"

if found_disk is {} then
  set errormsg to "Disk " & found_disk & " not found"
  error errormsg
end if

tell application "Finder"
  reopen
  activate
  set selection to {}
  set target of Finder window 1 to found_disk
  set current view of Finder window 1 to icon view
  set toolbar visible of Finder window 1 to false
  set statusbar visible of Finder window 1 to false
  set the bounds of Finder window 1 to {{printf "{%s}" .window_bounds}}
  tell disk found_disk
     set theViewOptions to the icon view options of container window
     set background picture of theViewOptions to file ".background:background.png"
     set arrangement of theViewOptions to not arranged
     set icon size of theViewOptions to 72
     set position of item "{{.pkg_name}}" of container window to {{printf "{%s}" .pkg_position}}
     delay 5
  end tell
end tell
`

// writeScript generates the Finder script that lays out the volume window.
func (d *diskImage) writeScript() error {
	script, err := render.String("osascript", finderScript, render.Params{
		"volume_name":   d.volume,
		"window_bounds": d.windowBounds,
		"pkg_name":      d.pkgName,
		"pkg_position":  d.pkgPosition,
	})
	if err != nil {
		return err
	}
	path := d.ctx.Abs(d.osascript)
	log.Infof("Generate %s", path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(script), 0o644)
}

func (d *diskImage) prettify() error {
	bg := filepath.Join(d.mountPoint(), ".background")
	if err := os.MkdirAll(bg, 0o755); err != nil {
		return err
	}
	if err := copyFile(d.ctx.Abs(filepath.Join("resources", "dmg", "background.png")), bg); err != nil {
		return err
	}
	return d.ctx.Run("osascript", d.osascript)
}

func (d *diskImage) compress() error {
	for _, cmd := range [][]string{
		{"chmod", "-Rf", "go-w", d.mountPoint()},
		{"sync"},
		{"sync"},
		{"hdiutil", "detach", d.device},
		{"hdiutil", "convert", d.tempName, "-format", "UDZO", "-imagekey", "zlib-level=9", "-o", d.name},
	} {
		if err := d.ctx.Run(cmd[0], cmd[1:]...); err != nil {
			return err
		}
	}
	return nil
}

// setIcon gives the image file itself the package icon.
func (d *diskImage) setIcon() error {
	icon := filepath.Join("resources", "dmg", "icon.png")
	if err := d.ctx.Run("sips", "-i", icon); err != nil {
		return err
	}
	rsrc, err := d.ctx.Output("DeRez", "-only", "icns", icon)
	if err != nil {
		return err
	}
	rsrcFile := d.volume + ".rsrc"
	if err := os.WriteFile(d.ctx.Abs(rsrcFile), []byte(rsrc), 0o644); err != nil {
		return err
	}
	if err := d.ctx.Run("Rez", "-append", rsrcFile, "-o", d.name); err != nil {
		return err
	}
	return d.ctx.Run("SetFile", "-a", "C", d.name)
}

func (d *diskImage) verify() error {
	return d.ctx.Run("hdiutil", "verify", d.name)
}

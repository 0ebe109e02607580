package download

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/containerd/log"
)

// Optimizer shrinks bitmap images with the usual external tools. Tools that
// are not installed are skipped, with a single warning at construction.
type Optimizer struct {
	pngquant  string
	advpng    string
	jpegoptim string
	gifsicle  string
	tmpDir    string
}

// NewOptimizer locates the optimisation binaries. tmpDir receives the
// intermediate files; it must already exist.
func NewOptimizer(ctx context.Context, tmpDir string) *Optimizer {
	o := &Optimizer{tmpDir: tmpDir}
	for _, tool := range []struct {
		name string
		dst  *string
	}{
		{"pngquant", &o.pngquant},
		{"advpng", &o.advpng},
		{"jpegoptim", &o.jpegoptim},
		{"gifsicle", &o.gifsicle},
	} {
		path, err := exec.LookPath(tool.name)
		if err != nil {
			log.G(ctx).WithField("tool", tool.name).Warn("optimiser binary not found, images of this kind are stored as-is")
			continue
		}
		*tool.dst = path
	}
	return o
}

// Optimize runs the pipeline matching contentType over body. Any failure
// leaves the original bytes untouched; a smaller output replaces them.
func (o *Optimizer) Optimize(ctx context.Context, contentType string, body []byte) []byte {
	switch contentType {
	case "image/png":
		body = o.runFile(ctx, body, ".png", o.pngquant, "--nofs", "--force", "--output", "{out}", "{in}")
		body = o.runInPlace(ctx, body, ".png", o.advpng, "-q", "-z", "-4", "{in}")
	case "image/jpeg":
		body = o.runInPlace(ctx, body, ".jpg", o.jpegoptim, "-q", "--strip-all", "-m60", "{in}")
	case "image/gif":
		body = o.runFile(ctx, body, ".gif", o.gifsicle, "-O3", "-o", "{out}", "{in}")
	}
	return body
}

// runFile writes body to a temp file, invokes the tool with distinct input
// and output paths and returns the output when it is smaller.
func (o *Optimizer) runFile(ctx context.Context, body []byte, ext, tool string, args ...string) []byte {
	if tool == "" {
		return body
	}
	in, err := o.writeTemp(body, ext)
	if err != nil {
		return body
	}
	defer os.Remove(in)
	out := in + ".opt" + ext
	defer os.Remove(out)

	if err := o.run(ctx, tool, in, out, args); err != nil {
		log.G(ctx).WithError(err).WithField("tool", filepath.Base(tool)).Debug("image optimisation failed")
		return body
	}
	optimised, err := os.ReadFile(out)
	if err != nil || len(optimised) == 0 || len(optimised) >= len(body) {
		return body
	}
	return optimised
}

// runInPlace is for tools that rewrite their input file.
func (o *Optimizer) runInPlace(ctx context.Context, body []byte, ext, tool string, args ...string) []byte {
	if tool == "" {
		return body
	}
	in, err := o.writeTemp(body, ext)
	if err != nil {
		return body
	}
	defer os.Remove(in)

	if err := o.run(ctx, tool, in, in, args); err != nil {
		log.G(ctx).WithError(err).WithField("tool", filepath.Base(tool)).Debug("image optimisation failed")
		return body
	}
	optimised, err := os.ReadFile(in)
	if err != nil || len(optimised) == 0 || len(optimised) >= len(body) {
		return body
	}
	return optimised
}

func (o *Optimizer) run(ctx context.Context, tool, in, out string, args []string) error {
	expanded := make([]string, len(args))
	for i, a := range args {
		switch a {
		case "{in}":
			expanded[i] = in
		case "{out}":
			expanded[i] = out
		default:
			expanded[i] = a
		}
	}
	cmd := exec.CommandContext(ctx, tool, expanded...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// pngquant exits 99 when the result would be larger than the
		// input; that is not a failure.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 99 {
			return nil
		}
		return err
	}
	return nil
}

func (o *Optimizer) writeTemp(body []byte, ext string) (string, error) {
	f, err := os.CreateTemp(o.tmpDir, "img-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

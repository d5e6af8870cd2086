package venvbuild

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Installers returns the built-in package steps.
func Installers() []Step {
	return []Step{
		{Name: "gevent", Desc: "gevent 0.13.8 against the environment's libevent", Rule: buildGevent},
		{Name: "freetype2", Desc: "FreeType 2.1.10 with ft2build.h exposed under freetype2/", Rule: buildFreetype2},
		{Name: "gfortran", Desc: "gfortran 4.2 from the Apple gcc-42 package", Rule: buildGfortran},
		{Name: "postgresql", Desc: "PostgreSQL 9.2.4 with the hstore extension", Rule: buildPostgresql},
		{Name: "mathjax", Desc: "MathJax 1.1.0 into the IPython notebook static dir", Rule: buildMathjax},
		{Name: "blas", Desc: "reference BLAS compiled with gfortran", Rule: buildBlas},
		{Name: "scons", Desc: "SCons 2.3.0", Rule: buildScons},
		{Name: "redis", Desc: "Redis 2.6.14 server and cli", Rule: buildRedis},
		{Name: "mongo", Desc: "MongoDB r2.4.2 built with scons", Rule: buildMongo},
		{Name: "hbase", Desc: "HBase 0.94.6.1 with a standalone hbase-site.xml", Rule: buildHbase},
		{Name: "cvxopt", Desc: "CVXOPT 1.1.5", Rule: buildCvxopt},
	}
}

// moduleStep wraps a standard recipe as a step.
func moduleStep(name string, r Recipe) Step {
	return Step{
		Name: name,
		Desc: "module " + r.Name,
		Rule: func(b *Builder, _ string) error {
			return b.Recipe(r)
		},
	}
}

// pipStep installs a requirement from the bundled site-packages directory
// without touching the network.
func pipStep(req string) Step {
	return Step{
		Name: "pip:" + req,
		Desc: "pip install " + req,
		Rule: func(b *Builder, _ string) error {
			pkgs := filepath.Join(b.Settings.ThirdPartyDir(), sitePackagesDir)
			s := newScript().run("pip install %s --no-index -f %s", shellQuote(req), shellQuote("file://"+pkgs))
			_, err := b.Exec("pip", s.String())
			return err
		},
	}
}

// sitePackageScript unpacks a Python source distribution from
// 3rdparty/site-packages and runs install in it (or in its subdir).
func sitePackageScript(srcPath, name, subdir, install string) string {
	dir := filepath.Join(srcPath, thirdPartyDir, sitePackagesDir)
	work := name
	if subdir != "" {
		work = filepath.Join(name, subdir)
	}
	s := newScript()
	s.enter(dir)
	s.freshExtract(name, name+".tar.gz")
	s.run("cd %s", shellQuote(work))
	s.run("%s", install)
	s.enter(dir)
	s.cleanup(name)
	return s.String()
}

func (b *Builder) sitePackage(name, subdir, install string) error {
	if err := b.prepareArchive(filepath.Join(sitePackagesDir, name+".tar.gz")); err != nil {
		return err
	}
	_, err := b.Exec(name, sitePackageScript(b.Settings.SrcPath, name, subdir, install))
	return err
}

func buildGevent(b *Builder, _ string) error {
	return b.sitePackage("gevent-0.13.8", "",
		`python setup.py install -I"$TARGET_ENV/include" -L"$TARGET_ENV/lib"`)
}

func buildScons(b *Builder, _ string) error {
	return b.sitePackage("scons-2.3.0", "", "python setup.py install")
}

// cvxopt keeps its setup.py in src/.
func buildCvxopt(b *Builder, _ string) error {
	return b.sitePackage("cvxopt-1.1.5", "src", "python setup.py install")
}

// Old FreeType installs ft2build.h one level above where newer consumers
// look for it.
func buildFreetype2(b *Builder, _ string) error {
	if err := b.Module("freetype-2.1.10", "", 0); err != nil {
		return err
	}
	return ensureSymlink(
		b.Path("include", "ft2build.h"),
		b.Path("include", "freetype2", "ft2build.h"),
	)
}

const gfortranPkg = "gcc-42-5666.3-darwin11"

func gfortranScript(srcPath string) string {
	s := newScript()
	s.enter(filepath.Join(srcPath, thirdPartyDir))
	s.cleanup(gfortranPkg)
	s.run("mkdir -p %s", shellQuote(gfortranPkg))
	s.run("cd %s", shellQuote(gfortranPkg))
	s.run("xar -xf %s", shellQuote("../"+gfortranPkg+".pkg"))
	s.run("mv *.pkg/Payload Payload.gz")
	s.run(`pax --insecure -rz -f Payload.gz -s ",./usr,$TARGET_ENV,"`)
	s.run(`ln -sf "$TARGET_ENV/bin/gfortran-4.2" "$TARGET_ENV/bin/gfortran"`)
	s.run("cd ..")
	s.cleanup(gfortranPkg)
	return s.String()
}

// The Apple package carries a whole gcc; only gfortran is kept. Anything
// new in bin/ and man1/ that is not gfortran goes, as does include/gcc.
func buildGfortran(b *Builder, _ string) error {
	binDir := b.Path("bin")
	manDir := b.Path("share", "man", "man1")

	binBefore, err := snapshotDir(binDir)
	if err != nil {
		return err
	}
	manBefore, err := snapshotDir(manDir)
	if err != nil {
		return err
	}

	if err := b.prepareArchive(gfortranPkg + ".pkg"); err != nil {
		return err
	}
	if _, err := b.Exec("gfortran", gfortranScript(b.Settings.SrcPath)); err != nil {
		return err
	}

	if err := removeTree(b.Path("include", "gcc")); err != nil {
		return err
	}
	for dir, before := range map[string]map[string]bool{binDir: binBefore, manDir: manBefore} {
		removed, err := pruneNew(dir, before, "gfortran")
		if err != nil {
			return err
		}
		debugf("Pruned from %s: %v\n", dir, removed)
	}
	return nil
}

func buildPostgresql(b *Builder, _ string) error {
	return b.Recipe(Recipe{
		Name:        "postgresql-9.2.4",
		PostInstall: []string{"make -C contrib/hstore install"},
	})
}

func blasScript(srcPath string) string {
	s := newScript()
	s.enter(filepath.Join(srcPath, thirdPartyDir))
	s.freshExtract("BLAS", "blas.tgz")
	s.run("cd BLAS")
	s.run("gfortran -shared -O2 *.f -o libblas.so -fPIC")
	s.run("gfortran -O2 -c *.f")
	s.run("ar cr libblas.a *.o")
	s.run(`mkdir -p "$TARGET_ENV/lib"`)
	s.run(`cp libblas.a libblas.so "$TARGET_ENV/lib"`)
	s.run("cd ..")
	s.cleanup("BLAS")
	return s.String()
}

func buildBlas(b *Builder, _ string) error {
	if err := b.prepareArchive("blas.tgz"); err != nil {
		return err
	}
	_, err := b.Exec("blas", blasScript(b.Settings.SrcPath))
	return err
}

func redisScript(srcPath string, jobs int) string {
	const name = "redis-2.6.14"
	s := newScript()
	s.enter(filepath.Join(srcPath, thirdPartyDir))
	s.freshExtract(name, name+".tar.gz")
	s.run("cd %s", shellQuote(name))
	s.run("make -j%d", max(jobs, 1))
	s.run(`mkdir -p "$TARGET_ENV/bin"`)
	s.run(`cp src/redis-cli src/redis-server "$TARGET_ENV/bin"`)
	s.run("cd ..")
	s.cleanup(name)
	s.run(`mkdir -p "$TARGET_ENV/redis"`)
	return s.String()
}

func buildRedis(b *Builder, _ string) error {
	if err := b.prepareArchive("redis-2.6.14.tar.gz"); err != nil {
		return err
	}
	_, err := b.Exec("redis", redisScript(b.Settings.SrcPath, b.Settings.Jobs))
	return err
}

func mongoScript(srcPath string, jobs int) string {
	const name = "mongodb-src-r2.4.2"
	s := newScript()
	s.enter(filepath.Join(srcPath, thirdPartyDir))
	s.freshExtract(name, name+".tar.gz")
	s.run("cd %s", shellQuote(name))
	s.run(`scons -j%d --prefix="$TARGET_ENV" install`, max(jobs, 1))
	s.run("cd ..")
	s.cleanup(name)
	return s.String()
}

func buildMongo(b *Builder, _ string) error {
	if err := b.prepareArchive("mongodb-src-r2.4.2.tar.gz"); err != nil {
		return err
	}
	_, err := b.Exec("mongo", mongoScript(b.Settings.SrcPath, b.Settings.Jobs))
	return err
}

const hbasePkg = "hbase-0.94.6.1"

// hbaseScript unpacks HBase and moves the tree into $TARGET_ENV/hbase;
// there is nothing to compile.
func hbaseScript(srcPath string) string {
	s := newScript()
	s.enter(filepath.Join(srcPath, thirdPartyDir))
	s.freshExtract(hbasePkg, hbasePkg+".tar.gz")
	s.run(`rm -fr "$TARGET_ENV/hbase"`)
	s.run(`mv %s "$TARGET_ENV/hbase"`, shellQuote(hbasePkg))
	return s.String()
}

// HadoopProperty is one name/value pair of a Hadoop-style configuration.
type HadoopProperty struct {
	Name  string `xml:"name"`
	Value string `xml:"value"`
}

type hadoopConfiguration struct {
	XMLName    xml.Name         `xml:"configuration"`
	Properties []HadoopProperty `xml:"property"`
}

// hadoopConfigXML renders props as a <configuration> document with the
// usual configuration.xsl stylesheet reference.
func hadoopConfigXML(props []HadoopProperty) ([]byte, error) {
	body, err := xml.MarshalIndent(hadoopConfiguration{Properties: props}, "", "  ")
	if err != nil {
		return nil, err
	}
	var out strings.Builder
	out.WriteString(`<?xml version="1.0"?>` + "\n")
	out.WriteString(`<?xml-stylesheet type="text/xsl" href="configuration.xsl"?>` + "\n")
	out.Write(body)
	out.WriteString("\n")
	return []byte(out.String()), nil
}

// Points HBase and its embedded ZooKeeper at data dirs inside the
// environment so it runs standalone.
func buildHbase(b *Builder, _ string) error {
	if err := b.prepareArchive(hbasePkg + ".tar.gz"); err != nil {
		return err
	}
	if _, err := b.Exec("hbase", hbaseScript(b.Settings.SrcPath)); err != nil {
		return err
	}

	doc, err := hadoopConfigXML([]HadoopProperty{
		{Name: "hbase.rootdir", Value: "file://" + b.Path("hbase-data")},
		{Name: "hbase.zookeeper.property.dataDir", Value: b.Path("zookeeper-data")},
	})
	if err != nil {
		return fmt.Errorf("hbase-site.xml: %w", err)
	}

	confDir := b.Path("hbase", "conf")
	if _, err := os.Stat(confDir); err != nil {
		return fsError("stat", confDir, err)
	}
	site := filepath.Join(confDir, "hbase-site.xml")
	if err := os.WriteFile(site, doc, 0o644); err != nil {
		return fsError("write", site, err)
	}
	return nil
}

const (
	mathjaxArchive = "mathjax-1.1.0.tar.gz"
	notebookQuery  = "from IPython.frontend.html import notebook; print(notebook.__file__)"
)

// MathJax goes next to the notebook's static assets, whose location only
// the environment's python knows.
func buildMathjax(b *Builder, _ string) error {
	res, err := b.Exec("mathjax-query", newScript().run("echo %s | python", shellQuote(notebookQuery)).String())
	if err != nil {
		return err
	}
	nbfile := lastLine(res.Stdout)
	if nbfile == "" {
		return fmt.Errorf("mathjax: python did not report the notebook package location")
	}

	static := filepath.Join(filepath.Dir(nbfile), "static")
	if _, err := os.Stat(static); err != nil {
		return fsError("stat", static, err)
	}

	if err := b.prepareArchive(mathjaxArchive); err != nil {
		return err
	}

	staging := filepath.Join(static, ".mathjax-extract")
	if err := os.RemoveAll(staging); err != nil {
		return fsError("remove", staging, err)
	}
	if err := extractArchive(filepath.Join(b.Settings.ThirdPartyDir(), mathjaxArchive), staging, true); err != nil {
		os.RemoveAll(staging)
		return err
	}

	final := filepath.Join(static, "mathjax")
	if err := os.RemoveAll(final); err != nil {
		return fsError("remove", final, err)
	}
	if err := os.Rename(staging, final); err != nil {
		return fsError("rename", final, err)
	}
	return touch(b.Path(".mathjax-done"))
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

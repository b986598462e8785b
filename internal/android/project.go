package android

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/harshul/droidpanel/internal/model"
)

// DefaultModule is the module Android Studio creates for new apps.
const DefaultModule = "app"

// Project is an analyzed Gradle project.
type Project struct {
	// Root is the absolute project directory
	Root string
	// Name is derived from the directory
	Name string
	// HasWrapper is true when ./gradlew exists
	HasWrapper bool
	// Modules are the sub directories with a Gradle build script, sorted
	Modules []string
}

var buildScripts = []string{"build.gradle.kts", "build.gradle"}

// Analyze inspects a project directory.
func Analyze(dir string) (Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Project{}, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return Project{}, err
	}
	if !info.IsDir() {
		return Project{}, fmt.Errorf("%s is not a directory: %w", abs, model.ErrNotValid)
	}

	_, wrapperErr := os.Stat(filepath.Join(abs, "gradlew"))

	return Project{
		Root:       abs,
		Name:       filepath.Base(abs),
		HasWrapper: wrapperErr == nil,
		Modules:    DetectModules(abs),
	}, nil
}

// DetectModules returns the direct sub directories holding a Gradle build
// script, sorted by name.
func DetectModules(projectDir string) []string {
	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return nil
	}

	var modules []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if buildScript(filepath.Join(projectDir, e.Name())) != "" {
			modules = append(modules, e.Name())
		}
	}
	sort.Strings(modules)

	return modules
}

func buildScript(moduleDir string) string {
	for _, name := range buildScripts {
		p := filepath.Join(moduleDir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var (
	namespaceRe     = regexp.MustCompile(`namespace\s*=?\s*['"]([^'"]+)['"]`)
	applicationIDRe = regexp.MustCompile(`applicationId\s*=?\s*['"]([^'"]+)['"]`)
	mainActivityRe  = regexp.MustCompile(`android:name\s*=\s*"([^"]*\.?MainActivity)"`)
)

// ParsePackageName extracts the package from a module build script. The
// applicationId wins over the namespace since it is what gets installed.
func ParsePackageName(buildScript string) (string, bool) {
	if m := applicationIDRe.FindStringSubmatch(buildScript); m != nil {
		return m[1], true
	}
	if m := namespaceRe.FindStringSubmatch(buildScript); m != nil {
		return m[1], true
	}
	return "", false
}

// ParseMainActivity extracts the launcher activity from a manifest. It looks
// for an activity with the LAUNCHER category first and falls back to any
// activity named MainActivity.
func ParseMainActivity(manifest string) (string, bool) {
	var m androidManifest
	if err := xml.Unmarshal([]byte(manifest), &m); err == nil {
		for _, a := range m.Application.Activities {
			if a.launcher() {
				return a.Name, true
			}
		}
	}

	if m := mainActivityRe.FindStringSubmatch(manifest); m != nil {
		return m[1], true
	}
	return "", false
}

type androidManifest struct {
	Application struct {
		Activities []manifestActivity `xml:"activity"`
	} `xml:"application"`
}

type manifestActivity struct {
	Name          string `xml:"http://schemas.android.com/apk/res/android name,attr"`
	IntentFilters []struct {
		Actions []struct {
			Name string `xml:"http://schemas.android.com/apk/res/android name,attr"`
		} `xml:"action"`
		Categories []struct {
			Name string `xml:"http://schemas.android.com/apk/res/android name,attr"`
		} `xml:"category"`
	} `xml:"intent-filter"`
}

func (a manifestActivity) launcher() bool {
	for _, f := range a.IntentFilters {
		main, launcher := false, false
		for _, ac := range f.Actions {
			main = main || ac.Name == "android.intent.action.MAIN"
		}
		for _, c := range f.Categories {
			launcher = launcher || c.Name == "android.intent.category.LAUNCHER"
		}
		if main && launcher {
			return true
		}
	}
	return false
}

// PackageName reads the package of a module.
func PackageName(projectDir, module string) (string, error) {
	path := buildScript(filepath.Join(projectDir, module))
	if path == "" {
		return "", fmt.Errorf("no build script in module %q: %w", module, model.ErrNotFound)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("could not read build script: %w", err)
	}

	pkg, ok := ParsePackageName(string(data))
	if !ok {
		return "", fmt.Errorf("no applicationId or namespace in %s: %w", path, model.ErrNotFound)
	}
	return pkg, nil
}

// MainActivity reads the launcher activity of a module, defaulting to
// MainActivity when the manifest doesn't tell.
func MainActivity(projectDir, module string) string {
	data, err := os.ReadFile(filepath.Join(projectDir, module, "src", "main", "AndroidManifest.xml"))
	if err != nil {
		return "MainActivity"
	}

	if activity, ok := ParseMainActivity(string(data)); ok {
		return activity
	}
	return "MainActivity"
}

// ReleasePaths are the files involved in signing a release APK.
type ReleasePaths struct {
	APKDir    string
	Unsigned  string
	Aligned   string
	OutputDir string
	Final     string
	IDSig     string
}

// NewReleasePaths returns the Gradle default release output locations.
func NewReleasePaths(projectDir, module string) ReleasePaths {
	apkDir := filepath.Join(projectDir, module, "build", "outputs", "apk", BuildTypeRelease)
	outDir := filepath.Join(projectDir, module, BuildTypeRelease)
	final := filepath.Join(outDir, "app-release.apk")

	return ReleasePaths{
		APKDir:    apkDir,
		Unsigned:  filepath.Join(apkDir, "app-release-unsigned.apk"),
		Aligned:   filepath.Join(apkDir, "app-release-aligned.apk"),
		OutputDir: outDir,
		Final:     final,
		IDSig:     final + ".idsig",
	}
}

// APKDir is where the installable APK of a build type ends up: Gradle's
// output for debug, the signed output for release.
func APKDir(projectDir, module, buildType string) string {
	if buildType == BuildTypeRelease {
		return NewReleasePaths(projectDir, module).OutputDir
	}
	return filepath.Join(projectDir, module, "build", "outputs", "apk", BuildTypeDebug)
}

// NewestAPK returns the most recently modified .apk in dir.
func NewestAPK(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("apk directory %s: %w", dir, model.ErrNotFound)
		}
		return "", err
	}

	var (
		newest  string
		newestT time.Time
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".apk") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestT) {
			newest = filepath.Join(dir, e.Name())
			newestT = info.ModTime()
		}
	}

	if newest == "" {
		return "", fmt.Errorf("no apk in %s: %w", dir, model.ErrNotFound)
	}
	return newest, nil
}

// GradleLocks returns lock files left in the project's .gradle directory,
// usually by a daemon that died mid build.
func GradleLocks(projectDir string) []string {
	var locks []string
	root := filepath.Join(projectDir, ".gradle")
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".lock") {
			locks = append(locks, path)
		}
		return nil
	})
	sort.Strings(locks)

	return locks
}

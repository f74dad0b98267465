package sandbox

import "fmt"

// LanguageConfig is everything the session needs to stage and run code for
// one supported language tag: default image, file extension, how to
// install a library, how to run the staged file, and the in-container
// working directory.
type LanguageConfig struct {
	Image          string
	Extension      string
	InstallCommand func(library string) string
	RunCommands    func(codePath string) []string
	Workdir        string
	CodePath       func(jobDir string) string
	Setup          []SetupStep
}

// SetupStep is one pre-run command issued before libraries are installed,
// e.g. `go mod init` for Go or `cargo new` for Rust.
type SetupStep struct {
	Command string
	Workdir string
}

// SupportedLanguages lists the seven tags the adapter understands. Unknown
// tags fail submission with a 400 naming this set.
var SupportedLanguages = []string{"python", "java", "javascript", "cpp", "go", "ruby", "rust"}

// languages is the per-language table of spec.md §4.2, grounded on
// original_source/src/llm_sandbox/utils.py's get_libraries_installation_command,
// get_code_file_extension and get_code_execution_command.
var languages = map[string]LanguageConfig{
	"python": {
		Image:          "python:3.11-slim",
		Extension:      "py",
		InstallCommand: func(lib string) string { return "pip install " + lib },
		RunCommands:    func(f string) []string { return []string{"python " + f} },
		Workdir:        "/tmp",
		CodePath:       func(string) string { return "/tmp/code.py" },
	},
	"java": {
		Image:          "eclipse-temurin:21-jdk",
		Extension:      "java",
		InstallCommand: func(lib string) string { return "mvn install:install-file -Dfile=" + lib },
		RunCommands:    func(f string) []string { return []string{"java " + f} },
		Workdir:        "/tmp",
		CodePath:       func(string) string { return "/tmp/code.java" },
	},
	"javascript": {
		Image:          "node:20-slim",
		Extension:      "js",
		InstallCommand: func(lib string) string { return "yarn add " + lib },
		RunCommands:    func(f string) []string { return []string{"node " + f} },
		Workdir:        "/tmp",
		CodePath:       func(string) string { return "/tmp/code.js" },
	},
	"cpp": {
		Image:          "gcc:13",
		Extension:      "cpp",
		InstallCommand: func(lib string) string { return "apt-get install " + lib },
		RunCommands: func(f string) []string {
			return []string{"g++ -o a.out " + f, "./a.out"}
		},
		Workdir:  "/tmp",
		CodePath: func(string) string { return "/tmp/code.cpp" },
	},
	"go": {
		Image:          "golang:1.23",
		Extension:      "go",
		InstallCommand: func(lib string) string { return "go get -u " + lib },
		RunCommands:    func(f string) []string { return []string{"go run " + f} },
		Workdir:        "/go_space",
		CodePath:       func(string) string { return "/go_space/code.go" },
		Setup: []SetupStep{
			{Command: "mkdir -p /go_space"},
			{Command: "go mod init go_space", Workdir: "/go_space"},
			{Command: "go mod tidy", Workdir: "/go_space"},
		},
	},
	"ruby": {
		Image:          "ruby:3.3-slim",
		Extension:      "rb",
		InstallCommand: func(lib string) string { return "gem install " + lib },
		RunCommands:    func(f string) []string { return []string{"ruby " + f} },
		Workdir:        "/tmp",
		CodePath:       func(string) string { return "/tmp/code.rb" },
	},
	"rust": {
		Image:          "rust:1.80",
		Extension:      "rs",
		InstallCommand: func(lib string) string { return "cargo add " + lib },
		RunCommands: func(string) []string {
			return []string{"mv src/code.rs src/main.rs", "cargo run"}
		},
		Workdir:  "/rust_space",
		CodePath: func(string) string { return "/rust_space/src/code.rs" },
		Setup: []SetupStep{
			{Command: "cargo new rust_space"},
		},
	},
}

// Lookup returns the config for a language tag, or an error naming the
// supported set if the tag is unknown.
func Lookup(lang string) (LanguageConfig, error) {
	cfg, ok := languages[lang]
	if !ok {
		return LanguageConfig{}, fmt.Errorf("unsupported language %q; must be one of %v", lang, SupportedLanguages)
	}
	return cfg, nil
}

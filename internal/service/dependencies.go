package service

import (
	"sort"
	"strings"
)

// BotDependencies describes what a generated bot needs installed.
type BotDependencies struct {
	Required       []string `json:"required"`
	Additional     []string `json:"additional"`
	Builtin        []string `json:"builtin"`
	InstallCommand string   `json:"installCommand"`
}

var requiredPackages = []string{"aiogram>=3.0.0", "aiohttp"}

// Top-level import names mapped to the package that provides them.
var knownPackages = map[string]string{
	"requests":    "requests",
	"PIL":         "pillow",
	"numpy":       "numpy",
	"pandas":      "pandas",
	"bs4":         "beautifulsoup4",
	"yaml":        "pyyaml",
	"dotenv":      "python-dotenv",
	"httpx":       "httpx",
	"aiosqlite":   "aiosqlite",
	"apscheduler": "apscheduler",
}

var builtinModules = map[string]bool{
	"asyncio": true, "collections": true, "datetime": true, "json": true,
	"logging": true, "math": true, "os": true, "random": true, "re": true,
	"sqlite3": true, "string": true, "sys": true, "time": true, "typing": true,
	"uuid": true, "pathlib": true, "enum": true, "dataclasses": true,
}

// scanDependencies reads the import statements of Python source.
func scanDependencies(code string) BotDependencies {
	additional := map[string]bool{}
	builtin := map[string]bool{}

	for _, line := range strings.Split(code, "\n") {
		for _, module := range importedModules(strings.TrimSpace(line)) {
			if pkg, ok := knownPackages[module]; ok {
				additional[pkg] = true
			} else if builtinModules[module] {
				builtin[module] = true
			}
		}
	}

	deps := BotDependencies{
		Required:   append([]string(nil), requiredPackages...),
		Additional: sortedKeys(additional),
		Builtin:    sortedKeys(builtin),
	}
	deps.InstallCommand = "pip install " + strings.Join(append(append([]string(nil), deps.Required...), deps.Additional...), " ")
	return deps
}

func importedModules(line string) []string {
	switch {
	case strings.HasPrefix(line, "from "):
		fields := strings.Fields(line)
		if len(fields) < 2 || strings.HasPrefix(fields[1], ".") {
			return nil
		}
		return []string{rootModule(fields[1])}
	case strings.HasPrefix(line, "import "):
		var modules []string
		for _, part := range strings.Split(strings.TrimPrefix(line, "import "), ",") {
			fields := strings.Fields(part)
			if len(fields) > 0 {
				modules = append(modules, rootModule(fields[0]))
			}
		}
		return modules
	}
	return nil
}

func rootModule(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

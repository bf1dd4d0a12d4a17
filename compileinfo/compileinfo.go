// Package compileinfo reports which build of a vid2bp binary is running.
package compileinfo

import (
	"fmt"
	"log"
	"runtime/debug"
)

type CompileInfo struct {
	Binary     string
	Module     string
	GoVersion  string
	Commit     string
	CommitTime string
	Modified   bool
}

func (c CompileInfo) String() string {
	if c.GoVersion == "" {
		return "Build information is unavailable for this binary."
	}

	commit := c.Commit
	if commit == "" {
		commit = "(unknown)"
	}

	mod := ""
	if c.Modified {
		mod = " Files in the repo were modified after that commit."
	}

	return fmt.Sprintf("%s (%s) was built with %s at commit %s %s.%s", c.Binary, c.Module, c.GoVersion, commit, c.CommitTime, mod)
}

func Get() CompileInfo {
	z, ok := debug.ReadBuildInfo()
	if !ok {
		return CompileInfo{}
	}

	return fromBuildInfo(z)
}

func fromBuildInfo(z *debug.BuildInfo) CompileInfo {
	out := CompileInfo{
		GoVersion: z.GoVersion,
		Binary:    z.Path,
		Module:    z.Main.Path,
	}
	for _, s := range z.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.time":
			out.CommitTime = s.Value
		case "vcs.modified":
			out.Modified = s.Value == "true"
		}
	}

	return out
}

// Log writes the build description through the standard logger.
func Log() {
	log.Println(Get())
}

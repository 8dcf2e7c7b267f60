package resolver

import (
	"errors"

	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/target"
	"github.com/Norgate-AV/xbuild/internal/workspace"
)

// All selects every project in the workspace.
const All = "all"

// Build creates the dependency graph of ws for platform, including
// platform-conditional dependencies.
func Build(ws *workspace.Workspace, platform target.Platform) (*Graph, error) {
	g := NewGraph()
	for _, p := range ws.Projects {
		g.AddNode(p.Name)
	}

	for _, p := range ws.Projects {
		for _, dep := range p.DependenciesFor(platform) {
			if err := g.AddEdge(dep, p.Name); err != nil {
				return nil, codes.Configuration("project %s: %v", p.Name, err)
			}
		}
	}

	return g, nil
}

// Order returns the projects needed to build name (or every project for All)
// on platform, each after all of its dependencies. A cycle anywhere in the
// selected subgraph is a configuration error naming its members.
func Order(ws *workspace.Workspace, name string, platform target.Platform) ([]*workspace.Project, error) {
	g, err := Build(ws, platform)
	if err != nil {
		return nil, err
	}

	roots := []string{name}
	if name == "" || name == All {
		roots = ws.Names()
	} else if _, ok := ws.Project(name); !ok {
		return nil, codes.Configuration("unknown project %q", name)
	}

	names, err := g.Sort(roots...)
	if err != nil {
		var cycle *CycleError
		if errors.As(err, &cycle) {
			return nil, &codes.BuildError{Kind: codes.ErrConfiguration, Err: cycle}
		}

		return nil, codes.Configuration("%v", err)
	}

	projects := make([]*workspace.Project, 0, len(names))
	for _, n := range names {
		p, _ := ws.Project(n)
		projects = append(projects, p)
	}

	return projects, nil
}

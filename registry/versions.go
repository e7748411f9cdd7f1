package registry

import "github.com/coreos/go-semver/semver"

// MatchVersions applies the version constraints of query to instances:
//
//   - A minimum version drops every instance whose version is lower, or
//     does not parse as a semantic version.
//   - A preferred version narrows the result to the instances carrying
//     exactly that version; when none do, all surviving instances stay
//     eligible.
//   - With no preferred version, the instances carrying the highest
//     parseable version win; when no version parses, all stay eligible.
//
// A minimum that itself does not parse is ignored. The relative order of
// instances is preserved.
func MatchVersions(instances []ServiceInstance, query InstanceQuery) []ServiceInstance {
	eligible := instances
	if min := parseVersion(query.MinimumVersion); min != nil {
		eligible = make([]ServiceInstance, 0, len(instances))
		for _, instance := range instances {
			if v := parseVersion(instance.Version); v != nil && !v.LessThan(*min) {
				eligible = append(eligible, instance)
			}
		}
	}
	if query.PreferredVersion != "" {
		return preferExact(eligible, query.PreferredVersion)
	}
	return preferLatest(eligible)
}

func preferExact(instances []ServiceInstance, version string) []ServiceInstance {
	exact := make([]ServiceInstance, 0, len(instances))
	for _, instance := range instances {
		if instance.Version == version {
			exact = append(exact, instance)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	return instances
}

func preferLatest(instances []ServiceInstance) []ServiceInstance {
	var latest *semver.Version
	for _, instance := range instances {
		if v := parseVersion(instance.Version); v != nil && (latest == nil || latest.LessThan(*v)) {
			latest = v
		}
	}
	if latest == nil {
		return instances
	}
	kept := make([]ServiceInstance, 0, len(instances))
	for _, instance := range instances {
		if v := parseVersion(instance.Version); v != nil && !v.LessThan(*latest) && !latest.LessThan(*v) {
			kept = append(kept, instance)
		}
	}
	return kept
}

func parseVersion(s string) *semver.Version {
	if s == "" {
		return nil
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		return nil
	}
	return v
}

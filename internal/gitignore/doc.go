// Package gitignore implements the .gitignore pattern syntax described at
// https://git-scm.com/docs/gitignore — glob/wildcard matching, rooted
// ("/build") and directory-only ("build/") patterns, negation
// ("!keep.log"), and nested per-directory ignore files.
//
// internal/scanner builds one Matcher per directory that has a .gitignore,
// holding only that file's patterns scoped to its directory, and checks a
// path against the root matcher first and then each ancestor directory's
// matcher in turn; the first match ignores the path. The matchers are
// cached in an LRU so a repeated scan (an index's second and subsequent
// runs) doesn't re-parse the same ignore files.
//
//	m := gitignore.New()
//	m.AddPattern("*.log")
//	m.AddPattern("!important.log")
//	m.AddFromFile(".gitignore", "")
//
//	if m.Match("build/error.log", false) {
//		// skip this file during a scan
//	}
package gitignore

package git

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	relver "git.home.luguber.info/inful/relbuilder/internal/version"
)

// TagInfo pairs a tag name with the commit it ultimately points at.
type TagInfo struct {
	Name   string
	Commit string
}

// Head returns the current HEAD commit hash.
func Head(repo *git.Repository) (string, error) {
	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// ExactTag returns the tag pointing exactly at HEAD. Annotated tags are
// peeled to their target commit. When several tags share the commit the
// highest version (per release ordering) wins, keeping the choice
// deterministic. A missing tag is reported as *NoTagError so callers can
// treat it as the soft no-release path.
func ExactTag(repo *git.Repository) (string, error) {
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}

	var matches []string
	iter, err := repo.Tags()
	if err != nil {
		return "", fmt.Errorf("list tags: %w", err)
	}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		commit, cerr := peelToCommit(repo, ref.Hash())
		if cerr != nil {
			return nil // broken tag object: skip, do not fail the guard
		}
		if commit == head.Hash() {
			matches = append(matches, ref.Name().Short())
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("iterate tags: %w", err)
	}

	if len(matches) == 0 {
		return "", &NoTagError{Commit: head.Hash().String()}
	}
	sort.Slice(matches, func(i, j int) bool { return lessVersionTag(matches[i], matches[j]) })
	return matches[len(matches)-1], nil
}

// IsNoTag reports whether err is the soft "no exact tag" condition.
func IsNoTag(err error) bool {
	var nt *NoTagError
	return errors.As(err, &nt)
}

// ListTags returns all tags with their peeled commit hashes, ordered by
// release version.
func ListTags(repo *git.Repository) ([]TagInfo, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	var tags []TagInfo
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		commit, cerr := peelToCommit(repo, ref.Hash())
		if cerr != nil {
			return nil
		}
		tags = append(tags, TagInfo{Name: ref.Name().Short(), Commit: commit.String()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	sort.Slice(tags, func(i, j int) bool { return lessVersionTag(tags[i].Name, tags[j].Name) })
	return tags, nil
}

// CommitAt resolves a tag name to its target commit.
func CommitAt(repo *git.Repository, tag string) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewTagReferenceName(tag), true)
	if err != nil {
		return nil, fmt.Errorf("resolve tag %s: %w", tag, err)
	}
	hash, err := peelToCommit(repo, ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("peel tag %s: %w", tag, err)
	}
	commit, err := repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("load commit for tag %s: %w", tag, err)
	}
	return commit, nil
}

// TreeAt returns the commit and tree at the given tag, the inputs for
// archive creation.
func TreeAt(repo *git.Repository, tag string) (*object.Commit, *object.Tree, error) {
	commit, err := CommitAt(repo, tag)
	if err != nil {
		return nil, nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, nil, fmt.Errorf("load tree for tag %s: %w", tag, err)
	}
	return commit, tree, nil
}

// peelToCommit resolves a tag ref hash to the commit it points at,
// following one level of annotated-tag indirection.
func peelToCommit(repo *git.Repository, hash plumbing.Hash) (plumbing.Hash, error) {
	if tagObj, err := repo.TagObject(hash); err == nil {
		commit, cerr := tagObj.Commit()
		if cerr != nil {
			return plumbing.ZeroHash, cerr
		}
		return commit.Hash, nil
	} else if !errors.Is(err, plumbing.ErrObjectNotFound) {
		return plumbing.ZeroHash, err
	}
	// Lightweight tag: the ref points at the commit directly.
	if _, err := repo.CommitObject(hash); err != nil {
		return plumbing.ZeroHash, err
	}
	return hash, nil
}

// lessVersionTag orders tags by their dotted numeric release components,
// falling back to string comparison for non-numeric parts.
func lessVersionTag(a, b string) bool {
	av := strings.Split(relver.FromTag(a), ".")
	bv := strings.Split(relver.FromTag(b), ".")
	for i := 0; i < len(av) && i < len(bv); i++ {
		an, aerr := strconv.Atoi(av[i])
		bn, berr := strconv.Atoi(bv[i])
		if aerr == nil && berr == nil {
			if an != bn {
				return an < bn
			}
			continue
		}
		if av[i] != bv[i] {
			return av[i] < bv[i]
		}
	}
	if len(av) != len(bv) {
		return len(av) < len(bv)
	}
	return a < b
}

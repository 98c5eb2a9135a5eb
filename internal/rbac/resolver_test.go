package rbac

import (
	"context"
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/require"
)

var permUniverse = []string{"users.view", "users.create", "roles.view", "roles.update", "audit.view", "attachments.delete", "pages.publish", "jobs.manage"}

// grantScenario is a random assignment of direct and role permissions.
type grantScenario struct {
	Direct []string
	Roles  map[string][]string
	Probe  string
}

func pick(r *rand.Rand) []string {
	var out []string
	for _, p := range permUniverse {
		if r.Intn(3) == 0 {
			out = append(out, p)
		}
	}
	return out
}

func (grantScenario) Generate(r *rand.Rand, _ int) reflect.Value {
	s := grantScenario{Direct: pick(r), Roles: map[string][]string{}}
	for i := 0; i < r.Intn(4); i++ {
		s.Roles[fmt.Sprintf("role-%d", i)] = pick(r)
	}
	s.Probe = permUniverse[r.Intn(len(permUniverse))]
	return reflect.ValueOf(s)
}

func TestHasPermissionMatchesUnionProperty(t *testing.T) {
	ctx := context.Background()
	property := func(s grantScenario) bool {
		resolver := NewResolver(staticStore{1: {Direct: s.Direct, Roles: s.Roles}}, nil)
		want := false
		for _, p := range s.Direct {
			want = want || p == s.Probe
		}
		for _, perms := range s.Roles {
			for _, p := range perms {
				want = want || p == s.Probe
			}
		}
		got, err := resolver.HasPermission(ctx, 1, s.Probe)
		return err == nil && got == want
	}
	require.NoError(t, quick.Check(property, &quick.Config{MaxCount: 500}))
}

func TestEmptyListSemantics(t *testing.T) {
	ctx := context.Background()
	resolver := NewResolver(staticStore{1: {Direct: []string{"users.view"}, Roles: map[string][]string{"admin": nil}}}, nil)

	anyPerm, err := resolver.HasAnyPermission(ctx, 1)
	require.NoError(t, err)
	require.False(t, anyPerm)

	allPerm, err := resolver.HasAllPermissions(ctx, 1)
	require.NoError(t, err)
	require.True(t, allPerm)

	anyRole, err := resolver.HasAnyRole(ctx, 1)
	require.NoError(t, err)
	require.False(t, anyRole)

	allRoles, err := resolver.HasAllRoles(ctx, 1)
	require.NoError(t, err)
	require.True(t, allRoles)
}

func TestUnknownNamesAreFalseNotErrors(t *testing.T) {
	ctx := context.Background()
	resolver := NewResolver(staticStore{1: {Direct: []string{"users.view"}, Roles: map[string][]string{"editor": {"pages.update"}}}}, nil)

	ok, err := resolver.HasPermission(ctx, 1, "does.not.exist")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = resolver.HasRole(ctx, 1, "ghost")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = resolver.HasAllPermissions(ctx, 1, " USERS.VIEW ", "pages.update")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = resolver.HasAllRoles(ctx, 1, "editor", "ghost")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInvalidPrincipal(t *testing.T) {
	resolver := NewResolver(staticStore{}, nil)
	_, err := resolver.HasPermission(context.Background(), 0, "users.view")
	require.ErrorIs(t, err, ErrInvalidPrincipal)
	_, err = resolver.HasPermission(context.Background(), 99, "users.view")
	require.ErrorIs(t, err, ErrInvalidPrincipal)
}

func TestCheckerReusedFromContextAndReloadsWhenStale(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(1)
	_, _ = repo.EnsurePermission(ctx, "users.view", "")
	resolver := NewResolver(repo, nil)

	c, err := resolver.For(ctx, 1)
	require.NoError(t, err)
	ctx = WithChecker(ctx, c)
	ok, err := resolver.HasPermission(ctx, 1, "users.view")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, repo.loadCount())

	require.NoError(t, repo.GrantPermission(ctx, 1, "users.view"))
	ok, err = resolver.HasPermission(ctx, 1, "users.view")
	require.NoError(t, err)
	require.False(t, ok, "snapshot is kept until invalidated")

	c.Invalidate()
	ok, err = resolver.HasPermission(ctx, 1, "users.view")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, repo.loadCount())
}

type recordingObserver struct{ calls map[string]int }

func (o *recordingObserver) ObserveAuthz(kind string, allowed bool) {
	o.calls[fmt.Sprintf("%s:%t", kind, allowed)]++
}

func TestObserverSeesChecks(t *testing.T) {
	obs := &recordingObserver{calls: map[string]int{}}
	resolver := NewResolver(staticStore{1: {Direct: []string{"a.b"}}}, obs)
	_, _ = resolver.HasPermission(context.Background(), 1, "a.b")
	_, _ = resolver.HasAnyPermission(context.Background(), 1, "x.y")
	require.Equal(t, map[string]int{"permission:true": 1, "any_permission:false": 1}, obs.calls)
}

func TestRoleLocalized(t *testing.T) {
	role := Role{Name: "editor", Description: "Edits content", Translations: map[string]RoleText{
		"de": {Name: "Redakteur"},
		"pt": {Name: "Editor", Description: "Edita conteúdo"},
	}}
	require.Equal(t, RoleText{Name: "Redakteur", Description: "Edits content"}, role.Localized("de"))
	require.Equal(t, "Edita conteúdo", role.Localized("pt_BR").Description)
	require.Equal(t, RoleText{Name: "editor", Description: "Edits content"}, role.Localized("ja"))
}

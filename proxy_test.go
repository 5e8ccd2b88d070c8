package alar

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type User struct {
	name string
}

func (u *User) GetName() (string, error) { return u.name, nil }

type userLoader struct{}

func (userLoader) Extensions() []string { return []string{".go"} }
func (userLoader) Resolve(path string) (Descriptor, error) {
	return Descriptor{
		GetInstance: func() (interface{}, error) {
			return &User{name: "Mr. World"}, nil
		},
	}, nil
}
func (userLoader) Unload(path string) error { return nil }

func TestLocalSingletonConstructedOnce(t *testing.T) {
	p := New("service.user", "/services/user", userLoader{})

	local1, err := p.Local()
	require.NoError(t, err)
	local2, err := p.Local()
	require.NoError(t, err)
	require.Same(t, local1, local2)

	future, err := local1.Call(context.Background(), "GetName")
	require.NoError(t, err)
	val, err := future.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Mr. World", val)
}

func TestChildProxyNaming(t *testing.T) {
	root := New("service", "/services", nil)
	child := root.Child("user")
	require.Equal(t, "service.user", child.Name())
	require.Equal(t, "/services/user", child.Path())

	// Child is memoized.
	require.Same(t, child, root.Child("user"))
}

type fakeStandIn struct {
	id    string
	ready Readiness
}

func (f *fakeStandIn) ServerID() string     { return f.id }
func (f *fakeStandIn) Readiness() Readiness { return f.ready }
func (f *fakeStandIn) SameProcess() bool    { return false }
func (f *fakeStandIn) Call(ctx context.Context, method string, args ...interface{}) (Task, error) {
	return nil, nil
}

func TestRoutePrefersReadyServers(t *testing.T) {
	p := New("service.user", "/services/user", nil)
	p.AddRemote(&fakeStandIn{id: "s1", ready: NotReady})
	p.AddRemote(&fakeStandIn{id: "s2", ready: Ready})

	standIn, err := p.Route("any-route")
	require.NoError(t, err)
	require.Equal(t, "s2", standIn.ServerID())
}

func TestRouteByServerIDString(t *testing.T) {
	p := New("service.user", "/services/user", nil)
	p.AddRemote(&fakeStandIn{id: "s1", ready: Ready})
	p.AddRemote(&fakeStandIn{id: "s2", ready: Ready})

	standIn, err := p.Route("s1")
	require.NoError(t, err)
	require.Equal(t, "s1", standIn.ServerID())
}

func TestRouteUnavailableWithoutFallback(t *testing.T) {
	p := New("service.user", "/services/user", nil)
	_, err := p.Route("route")
	require.Error(t, err)
}

func TestRouteFallsBackToLocal(t *testing.T) {
	p := New("service.user", "/services/user", userLoader{})
	p.SetFallbackToLocal(true)

	standIn, err := p.Route("route")
	require.NoError(t, err)
	require.True(t, standIn.SameProcess())

	task, err := standIn.Call(context.Background(), "GetName")
	require.NoError(t, err)
	val, err := task.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Mr. World", val)
}

type sameProcessStandIn struct {
	fakeStandIn
}

func (f *sameProcessStandIn) SameProcess() bool { return true }

func TestRouteTakesSameProcessShortcut(t *testing.T) {
	p := New("service.user", "/services/user", userLoader{})
	p.AddRemote(&sameProcessStandIn{fakeStandIn{id: "s1", ready: Ready}})

	standIn, err := p.Route("s1")
	require.NoError(t, err)
	require.True(t, standIn.SameProcess())

	// The shortcut resolves to the local singleton rather than the
	// networked stand-in, so a call succeeds without any transport.
	task, err := standIn.Call(context.Background(), "GetName")
	require.NoError(t, err)
	val, err := task.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Mr. World", val)
}

func TestRemoveRemoteStopsRouting(t *testing.T) {
	p := New("service.user", "/services/user", nil)
	p.AddRemote(&fakeStandIn{id: "s1", ready: Ready})
	p.RemoveRemote("s1")

	_, err := p.Route("route")
	require.Error(t, err)
}

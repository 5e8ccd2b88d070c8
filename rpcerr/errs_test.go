package rpcerr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type MyError struct {
	Message string
}

func (e *MyError) Error() string     { return e.Message }
func (e *MyError) ErrorName() string { return "MyError" }

func init() {
	Register("MyError", func() Named { return &MyError{} })
}

func TestMarshalUnmarshalRegisteredError(t *testing.T) {
	orig := &MyError{Message: "something went wrong"}
	rec := Marshal(orig)
	require.Equal(t, "MyError", rec.Name)
	require.Equal(t, "something went wrong", rec.Message)

	got := Unmarshal(rec)
	myErr, ok := got.(*MyError)
	require.True(t, ok)
	require.Equal(t, "something went wrong", myErr.Message)
	require.NotSame(t, orig, myErr)
}

func TestMarshalUnmarshalUnregisteredError(t *testing.T) {
	orig := errPlain{"boom"}
	rec := Marshal(orig)
	got := Unmarshal(rec)
	generic, ok := got.(*Error)
	require.True(t, ok)
	require.Equal(t, "boom", generic.Error())
}

type errPlain struct{ msg string }

func (e errPlain) Error() string { return e.msg }

func TestMarshalUnmarshalNonErrorThrow(t *testing.T) {
	rec := Marshal("something went wrong")
	got := Unmarshal(rec)
	require.Equal(t, "something went wrong", got)
}

func TestTimeoutIsRecognizable(t *testing.T) {
	var err error = &Timeout{Module: "user", Method: "getName", Duration: stringerFunc(func() string { return "5s" })}
	require.True(t, IsTimeout(err))
	require.Contains(t, err.Error(), "user.getName")
}

type stringerFunc func() string

func (f stringerFunc) String() string { return f() }

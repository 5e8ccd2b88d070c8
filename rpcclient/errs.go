package rpcclient

import "github.com/hyurl/alar/rpcerr"

func rpcClosedErr() error { return rpcerr.ErrClosed }

func rpcTransportErr() error { return rpcerr.ErrTransport }

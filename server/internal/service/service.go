// SPDX-License-Identifier: AGPL-3.0-only

// Package service implements the server side request handlers.
//
// Handlers take decoded wire bodies and return the bodies to send
// back; the connection router owns request ids, ordering and the
// authentication state machine.
package service

import (
	"github.com/chipshifter/licks/core/wire"
)

func errorBody(code wire.Error) wire.Body {
	return &wire.ErrorBody{Code: code}
}

func okBody() wire.Body {
	return &wire.Empty{Kind: wire.EmptyOk}
}

func unauthReply(m wire.UnauthBody) wire.Body {
	return &wire.Unauthenticated{Msg: m}
}

func authReply(m wire.AuthBody) wire.Body {
	return &wire.Authenticated{Msg: m}
}

func chatReply(m wire.ChatBody) wire.Body {
	return &wire.Unauthenticated{Msg: &wire.ChatService{Msg: m}}
}

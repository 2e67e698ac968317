// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package coordinator

import (
	"context"
	"fmt"

	"github.com/toeirei/keysigner/internal/keys"
	"github.com/toeirei/keysigner/internal/model"
	"github.com/toeirei/keysigner/internal/nipcrypto"
)

// outcome is what a handler produced for one approved request.
type outcome struct {
	signature *string
	result    *string
	// remote is the bunker reply result.
	remote string
}

func (o outcome) empty() bool { return o.signature == nil && o.result == nil }

// item bundles what respond needs to deliver one request.
type item struct {
	req  model.SigningRequest
	acct *keys.Account
	app  model.ApplicationRecord
}

// handler is implemented once per request family. The set is closed:
// handlerFor is the only constructor.
type handler interface {
	// evaluateKind is the grant discriminator for the request.
	evaluateKind(req model.SigningRequest) *int
	commit(ctx context.Context, c Crypto, req model.SigningRequest, kp *keys.KeyPair) (outcome, error)
	respond(ctx context.Context, r Router, it item, out outcome) error
}

func handlerFor(kind model.SignerType) (handler, error) {
	switch {
	case kind == model.SignEvent:
		return signEventHandler{}, nil
	case kind == model.SignMessage:
		return signMessageHandler{}, nil
	case kind.IsCrypto():
		return cryptoHandler{}, nil
	case kind == model.Connect, kind == model.GetPublicKey:
		return sessionHandler{}, nil
	}
	return nil, fmt.Errorf("%s: %w", kind, nipcrypto.ErrUnsupportedKind)
}

// delivery is the respond step shared by every handler.
type delivery struct{}

func (delivery) evaluateKind(req model.SigningRequest) *int { return req.EventKind() }

func (delivery) respond(ctx context.Context, r Router, it item, out outcome) error {
	if it.req.Bunker != nil {
		return r.Bunker(ctx, it.acct, it.app, model.BunkerResponse{ID: it.req.Bunker.ID, Result: out.remote})
	}
	r.Local(it.req.RequesterKey, it.req.ID, out.signature, out.result)
	return nil
}

type signEventHandler struct{ delivery }

func (signEventHandler) commit(_ context.Context, c Crypto, req model.SigningRequest, kp *keys.KeyPair) (outcome, error) {
	signed, err := c.SignEvent(req.Event, kp)
	if err != nil {
		return outcome{}, err
	}
	js, err := nipcrypto.EventJSON(signed)
	if err != nil {
		return outcome{}, err
	}
	sig := nipcrypto.EventSignature(signed)
	return outcome{signature: &sig, result: &sig, remote: js}, nil
}

type signMessageHandler struct{ delivery }

func (signMessageHandler) commit(_ context.Context, c Crypto, req model.SigningRequest, kp *keys.KeyPair) (outcome, error) {
	res, err := c.Dispatch(req.Kind, req.Payload, kp, "")
	if err != nil {
		return outcome{}, err
	}
	return resultOutcome(res), nil
}

// cryptoHandler covers NIP-04, NIP-44 and private zap decryption. A result
// produced ahead of time by the caller is used as is.
type cryptoHandler struct{ delivery }

func (cryptoHandler) commit(_ context.Context, c Crypto, req model.SigningRequest, kp *keys.KeyPair) (outcome, error) {
	if req.EncryptedData != nil {
		return resultOutcome(req.EncryptedData), nil
	}
	res, err := c.Dispatch(req.Kind, req.Payload, kp, req.CounterpartPubKey)
	if err != nil {
		return outcome{}, err
	}
	return resultOutcome(res), nil
}

// sessionHandler answers connect and get_public_key.
type sessionHandler struct{ delivery }

func (sessionHandler) commit(_ context.Context, c Crypto, req model.SigningRequest, kp *keys.KeyPair) (outcome, error) {
	res, err := c.Dispatch(req.Kind, req.Payload, kp, req.CounterpartPubKey)
	if err != nil {
		return outcome{}, err
	}
	return resultOutcome(res), nil
}

func resultOutcome(res *string) outcome {
	out := outcome{signature: res, result: res}
	if res != nil {
		out.remote = *res
	}
	return out
}

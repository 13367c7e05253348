// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chatbot implements the HTTP transport for the site chat service.
//
// The service exposes a single streaming endpoint: the client POSTs the user
// message together with the session identifier, prior conversation turns, and
// page metadata, and the service answers with a streamed text body decoded by
// package sse.
//
// # Key Types
//
//   - Client: configured transport with a per-visit session identifier
//   - Stream: one in-flight response, consumed chunk by chunk
//   - HistoryEntry: a prior conversation turn in wire form
//
// # Usage
//
//	client := chatbot.NewClient("https://example.com/api/chat")
//	stream, err := client.Send(ctx, chatbot.Request{Message: "hello"})
//	if err != nil {
//		return err
//	}
//	defer stream.Close()
//	for {
//		chunk, err := stream.Recv(ctx)
//		if err == io.EOF {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		render(chunk)
//	}
package chatbot

/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tejzpr/haven-go-sdk/havensdk"
)

// CallRouter creates routed calls and confirms answers
type CallRouter interface {
	InitiateCall(ctx context.Context, calleeID string) (string, error)
	AnswerCall(ctx context.Context, callID string) error
}

// AvailabilityRegistry reads and writes the callee's availability flag
type AvailabilityRegistry interface {
	GetAvailability(ctx context.Context) (bool, error)
	SetAvailability(ctx context.Context, available bool) (bool, error)
}

// CallRecorder records the end of a call
type CallRecorder interface {
	EndCall(ctx context.Context, callID string, endedBy EndedBy) (*CallRecord, error)
}

// CallStatus is the final status of a call history record
type CallStatus string

const (
	CallStatusEndedByCaller CallStatus = "ended_by_user"
	CallStatusEndedByCallee CallStatus = "ended_by_therapist"
	CallStatusMissed        CallStatus = "missed"
	CallStatusRejected      CallStatus = "rejected"
)

// Label returns the status as shown in a call history list
func (s CallStatus) Label() string {
	switch s {
	case CallStatusEndedByCaller, CallStatusEndedByCallee:
		return "Completed"
	case CallStatusMissed:
		return "Missed"
	case CallStatusRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// CalleeProfile is a callee listed by the router
type CalleeProfile struct {
	ID             string `json:"_id"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	Specialization string `json:"specialization,omitempty"`
	IsAvailable    bool   `json:"isAvailable"`
}

// CallRecord is one entry of the call history
type CallRecord struct {
	ID              string         `json:"_id"`
	RoomID          string         `json:"roomId,omitempty"`
	Callee          *CalleeProfile `json:"therapistId,omitempty"`
	StartTime       *time.Time     `json:"startTime,omitempty"`
	EndTime         *time.Time     `json:"endTime,omitempty"`
	DurationMinutes int            `json:"duration"`
	CostInCoins     int            `json:"costInCoins"`
	Status          CallStatus     `json:"status"`
	EndedBy         EndedBy        `json:"endedBy,omitempty"`
}

// RouterClient is the REST client for call routing, availability and history
type RouterClient struct {
	core *havensdk.Client
}

// NewRouterClient creates a router client over core
func NewRouterClient(core *havensdk.Client) *RouterClient {
	return &RouterClient{core: core}
}

// InitiateCall asks the router to create a call to calleeID and returns the
// room id, of the form <prefix>-<callId>.
func (r *RouterClient) InitiateCall(ctx context.Context, calleeID string) (string, error) {
	body := map[string]string{"therapistId": calleeID}
	var result struct {
		RoomID string `json:"roomId"`
	}
	if err := r.do(ctx, http.MethodPost, "call/initiate", body, &result); err != nil {
		if havensdk.IsPaymentRequired(err) {
			return "", &InsufficientBalanceError{Err: err}
		}
		return "", &RoutingError{CalleeID: calleeID, Reason: "initiate call", Err: err}
	}
	if _, err := ParseRoomID(result.RoomID); err != nil {
		return "", &RoutingError{CalleeID: calleeID, Reason: "initiate call", Err: err}
	}
	return result.RoomID, nil
}

// AnswerCall confirms to the router that the callee answered callID
func (r *RouterClient) AnswerCall(ctx context.Context, callID string) error {
	if err := r.do(ctx, http.MethodPost, "call/answer/"+url.PathEscape(callID), nil, nil); err != nil {
		return &RoutingError{Reason: "answer call", Err: err}
	}
	return nil
}

// EndCall records that callID was ended by endedBy
func (r *RouterClient) EndCall(ctx context.Context, callID string, endedBy EndedBy) (*CallRecord, error) {
	body := map[string]string{"endedBy": string(endedBy)}
	var result struct {
		Call *CallRecord `json:"call"`
	}
	if err := r.do(ctx, http.MethodPost, "call/end/"+url.PathEscape(callID), body, &result); err != nil {
		return nil, fmt.Errorf("error ending call %s: %w", callID, err)
	}
	return result.Call, nil
}

// GetAvailability returns the callee's availability flag as stored by the router
func (r *RouterClient) GetAvailability(ctx context.Context) (bool, error) {
	var result struct {
		IsAvailable bool `json:"isAvailable"`
	}
	if err := r.do(ctx, http.MethodGet, "therapist/availability", nil, &result); err != nil {
		return false, fmt.Errorf("error fetching availability: %w", err)
	}
	return result.IsAvailable, nil
}

// SetAvailability updates the availability flag and returns the value the
// router confirmed.
func (r *RouterClient) SetAvailability(ctx context.Context, available bool) (bool, error) {
	body := map[string]bool{"isAvailable": available}
	var result struct {
		Therapist struct {
			IsAvailable bool `json:"isAvailable"`
		} `json:"therapist"`
	}
	if err := r.do(ctx, http.MethodPut, "therapist/availability", body, &result); err != nil {
		return false, fmt.Errorf("error updating availability: %w", err)
	}
	return result.Therapist.IsAvailable, nil
}

// ListCallees returns the callees the caller may ring
func (r *RouterClient) ListCallees(ctx context.Context) ([]CalleeProfile, error) {
	var result struct {
		Therapists []CalleeProfile `json:"therapists"`
	}
	if err := r.do(ctx, http.MethodGet, "user/therapists", nil, &result); err != nil {
		return nil, fmt.Errorf("error listing callees: %w", err)
	}
	return result.Therapists, nil
}

// CallHistory returns the caller's past calls, most recent first as ordered by the router
func (r *RouterClient) CallHistory(ctx context.Context) ([]CallRecord, error) {
	var result struct {
		Calls []CallRecord `json:"calls"`
	}
	if err := r.do(ctx, http.MethodGet, "user/call-history", nil, &result); err != nil {
		return nil, fmt.Errorf("error fetching call history: %w", err)
	}
	return result.Calls, nil
}

func (r *RouterClient) do(ctx context.Context, method, path string, body, v interface{}) error {
	resp, err := r.core.RequestWithRetry(ctx, method, path, nil, body)
	if err != nil {
		return err
	}
	return havensdk.ParseResponse(resp, v)
}

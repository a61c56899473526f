package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/iguess/chat-app/internal/convo"
	"github.com/iguess/chat-app/internal/identity"
	"github.com/iguess/chat-app/internal/message"
	"github.com/iguess/chat-app/internal/messaging"
	"github.com/iguess/chat-app/internal/metrics"
	"github.com/iguess/chat-app/internal/presence"
	"github.com/iguess/chat-app/internal/profile"
	"github.com/iguess/chat-app/internal/protocol"
	"github.com/iguess/chat-app/internal/ratelimit"
	"github.com/iguess/chat-app/internal/ws"
)

// presenceBus adapts the NATS client to the presence event bus interface.
type presenceBus struct {
	nats *messaging.Client
}

func (b presenceBus) PublishPresence(userID string, data []byte) error {
	return b.nats.PublishPresence(userID, data)
}

func (b presenceBus) SubscribePresence(userID string, handler func(data []byte)) (presence.Subscription, error) {
	return b.nats.SubscribePresenceWatch(userID, handler)
}

// clientState is the per-connection state accumulated after authentication.
type clientState struct {
	identity *identity.Identity
	profile  *profile.Profile
	session  *presence.Session
	watches  map[string]*presence.StatusWatch
}

// fanout is the slice of the messaging client the handlers need: per-connection
// conversation subscriptions. Satisfied by *messaging.Client.
type fanout interface {
	SubscribeConversation(conversationID, connID string, handler func(data []byte)) error
	UnsubscribeConnection(connID string)
}

// profileDirectory is the profile storage the handlers need. Satisfied by
// *profile.Store.
type profileDirectory interface {
	Upsert(ctx context.Context, p *profile.Profile) error
	Get(ctx context.Context, userID string) (*profile.Profile, error)
	Search(ctx context.Context, viewerID, term string) ([]*profile.Profile, error)
	UpdateSettings(ctx context.Context, userID, displayName string, hideEmail bool) error
}

// conversationDirectory is the conversation lookup the handlers need.
// Satisfied by *convo.Store.
type conversationDirectory interface {
	Get(ctx context.Context, id string) (*convo.Conversation, error)
	ListDirectFor(ctx context.Context, userID string) ([]*convo.Conversation, error)
}

type appDeps struct {
	nats     fanout
	tracker  *presence.Tracker
	resolver *convo.Resolver
	convos   conversationDirectory
	profiles profileDirectory
	messages *message.Service
	limiter  *ratelimit.Limiter
}

// app holds the wired dependencies and the per-connection client registry.
type app struct {
	appDeps
	server *ws.Server

	mu      sync.Mutex
	clients map[string]*clientState
}

func newApp(deps appDeps) *app {
	return &app{
		appDeps: deps,
		clients: make(map[string]*clientState),
	}
}

func (a *app) client(connID string) *clientState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clients[connID]
}

// detachClient removes the connection's state from the registry and hands the
// caller a snapshot of its presence watches. The watches map must only be
// touched under a.mu, so teardown takes the snapshot here and closes the
// watches outside the lock.
func (a *app) detachClient(connID string) (*clientState, []*presence.StatusWatch) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.clients[connID]
	if state == nil {
		return nil, nil
	}
	delete(a.clients, connID)

	watches := make([]*presence.StatusWatch, 0, len(state.watches))
	for _, w := range state.watches {
		watches = append(watches, w)
	}
	state.watches = make(map[string]*presence.StatusWatch)
	return state, watches
}

// putWatch records a presence watch for the connection. It re-checks that the
// connection is still registered with the same state, so a watch set up while
// the connection was tearing down is reported back to the caller for closing
// instead of being stranded in a detached map.
func (a *app) putWatch(connID, userID string, state *clientState, w *presence.StatusWatch) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.clients[connID] != state {
		return false
	}
	state.watches[userID] = w
	return true
}

func (a *app) send(conn *ws.Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("marshal %s: %v", msgType, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("send %s conn=%s: %v", msgType, conn.ID, err)
	}
}

func (a *app) sendError(conn *ws.Connection, code, msg string) {
	a.send(conn, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: msg})
}

func (a *app) sendRateLimited(conn *ws.Connection, rule ratelimit.Rule) {
	a.send(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: int(rule.Window.Seconds()),
	})
}

// subscribeConversation fans messages published on the conversation's NATS
// subject out to this connection. Repeat subscriptions for the same pair are
// deduplicated by the messaging client.
func (a *app) subscribeConversation(conn *ws.Connection, conversationID string) {
	err := a.nats.SubscribeConversation(conversationID, conn.ID, func(data []byte) {
		var m message.Message
		if err := json.Unmarshal(data, &m); err != nil {
			return
		}
		a.send(conn, protocol.TypeMessage, protocol.ServerChatMsg{Message: messageInfo(&m)})
	})
	if err != nil {
		log.Printf("subscribe conv=%s conn=%s: %v", conversationID, conn.ID, err)
	}
}

func messageInfo(m *message.Message) protocol.MessageInfo {
	return protocol.MessageInfo{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		SenderAvatar:   m.SenderAvatar,
		Text:           m.Text,
		Ts:             m.CreatedAt.UnixMilli(),
	}
}

// profileInfo converts a stored profile to its wire form. The email is
// included only for the owner's own view or when the owner has not hidden it.
func profileInfo(p *profile.Profile, viewerID string) protocol.ProfileInfo {
	email := p.PublicEmail()
	if p.UserID == viewerID {
		email = p.Email
	}
	info := protocol.ProfileInfo{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Email:       email,
		AvatarURL:   p.AvatarURL(),
		HideEmail:   p.HideEmail,
		Anonymous:   p.Anonymous,
	}
	if !p.CreatedAt.IsZero() {
		info.CreatedAt = p.CreatedAt.Unix()
	}
	return info
}

func conversationInfo(c *convo.Conversation, viewerID string) protocol.ConversationInfo {
	info := protocol.ConversationInfo{
		ID:                c.ID,
		Kind:              c.Type,
		PartnerID:         c.Other(viewerID),
		LastMessage:       c.LastMessage,
		LastMessageSender: c.LastMessageSender,
	}
	if !c.LastMessageTime.IsZero() {
		info.LastMessageTs = c.LastMessageTime.UnixMilli()
	}
	return info
}

func statusMsg(st presence.Status) protocol.StatusMsg {
	msg := protocol.StatusMsg{
		UserID: st.UserID,
		Online: st.Online,
	}
	if !st.LastSeen.IsZero() {
		msg.LastSeen = st.LastSeen.Unix()
	}
	return msg
}

// connectGate rate-limits WebSocket upgrades per client IP.
func (a *app) connectGate(r *http.Request) bool {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	allowed, _ := a.limiter.Allow(ctx, ip, ratelimit.RuleConnect)
	return allowed
}

// handleDisconnect is the connection teardown hook. It releases the
// connection's NATS subscriptions and presence watches, then fires the
// session's disconnect hook so the user goes offline when this was their
// last live session.
func (a *app) handleDisconnect(conn *ws.Connection) {
	a.nats.UnsubscribeConnection(conn.ID)

	state, watches := a.detachClient(conn.ID)
	if state == nil {
		return
	}
	for _, w := range watches {
		_ = w.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := state.session.Disconnect(ctx); err != nil {
		log.Printf("disconnect user=%s: %v", state.identity.UserID, err)
	}
	metrics.PresenceEvents.WithLabelValues("offline").Inc()
	metrics.OnlineUsers.Set(float64(a.server.Connections().CountUsers()))
}

// handleHeartbeat refreshes the session's liveness lease on every successful
// ping, keeping offline detection honest while the connection is healthy.
func (a *app) handleHeartbeat(conn *ws.Connection) {
	state := a.client(conn.ID)
	if state == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := state.session.Heartbeat(ctx); err != nil {
		log.Printf("heartbeat user=%s: %v", state.identity.UserID, err)
	}
}

func (a *app) registerHandlers(dispatcher *ws.MessageDispatcher) {

	// -----------------------------------------------------------------------
	// auth — bind an identity to the connection
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeAuth, func(conn *ws.Connection, msg interface{}) {
		authMsg, ok := msg.(protocol.AuthMsg)
		if !ok {
			return
		}
		ctx := context.Background()

		var ident *identity.Identity
		if authMsg.Guest {
			ident = identity.NewGuest()
		} else {
			var claims identity.Claims
			if err := json.Unmarshal(authMsg.Claims, &claims); err != nil {
				a.sendError(conn, "invalid_claims", "could not parse claims")
				return
			}
			var err error
			ident, err = identity.FromClaims(claims)
			if err != nil {
				a.sendError(conn, "invalid_claims", "claims are missing a subject")
				return
			}
		}

		if conn.UserID() != "" {
			a.sendError(conn, "already_authenticated", "connection already has a user")
			return
		}

		if err := a.profiles.Upsert(ctx, ident.Profile()); err != nil {
			log.Printf("auth: profile upsert user=%s: %v", ident.UserID, err)
			a.sendError(conn, "internal_error", "could not store profile")
			return
		}
		stored, err := a.profiles.Get(ctx, ident.UserID)
		if err != nil {
			log.Printf("auth: profile read-back user=%s: %v", ident.UserID, err)
			stored = ident.Profile()
		}

		sess, err := a.tracker.BeginSession(ctx, ident.UserID)
		if err != nil {
			log.Printf("auth: begin session user=%s: %v", ident.UserID, err)
			a.sendError(conn, "internal_error", "could not start session")
			return
		}

		// Bind only once every fallible step has succeeded, so a failed auth
		// leaves the connection free to retry. Losing the bind race means a
		// concurrent auth on this connection won; roll the session back.
		if !conn.BindUser(ident.UserID) {
			_ = sess.Disconnect(ctx)
			a.sendError(conn, "already_authenticated", "connection already has a user")
			return
		}

		a.mu.Lock()
		a.clients[conn.ID] = &clientState{
			identity: ident,
			profile:  stored,
			session:  sess,
			watches:  make(map[string]*presence.StatusWatch),
		}
		a.mu.Unlock()

		// Every authenticated client receives the global room live, plus all
		// of their existing direct conversations.
		a.subscribeConversation(conn, convo.GlobalID)
		if convos, err := a.convos.ListDirectFor(ctx, ident.UserID); err == nil {
			for _, c := range convos {
				a.subscribeConversation(conn, c.ID)
			}
		}

		metrics.PresenceEvents.WithLabelValues("online").Inc()
		metrics.OnlineUsers.Set(float64(a.server.Connections().CountUsers()))

		a.send(conn, protocol.TypeAuthOK, protocol.AuthOKMsg{
			Profile: profileInfo(stored, ident.UserID),
		})
		log.Printf("auth ok conn=%s user=%s guest=%v", conn.ID, ident.UserID, ident.Anonymous)
	})

	// -----------------------------------------------------------------------
	// open_direct — find or create the direct conversation with another user
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeOpenDirect, func(conn *ws.Connection, msg interface{}) {
		openMsg, ok := msg.(protocol.OpenDirectMsg)
		if !ok {
			return
		}
		ctx := context.Background()
		userID := conn.UserID()

		if _, err := a.profiles.Get(ctx, openMsg.UserID); err != nil {
			if errors.Is(err, profile.ErrNotFound) {
				metrics.ResolveTotal.WithLabelValues("rejected").Inc()
				a.sendError(conn, "unknown_user", "user does not exist")
				return
			}
			log.Printf("open_direct: target lookup user=%s: %v", openMsg.UserID, err)
			a.sendError(conn, "internal_error", "could not open conversation")
			return
		}

		start := time.Now()
		c, created, err := a.resolver.ResolveConversation(ctx, userID, openMsg.UserID)
		metrics.ResolveLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ResolveTotal.WithLabelValues("rejected").Inc()
			switch {
			case errors.Is(err, convo.ErrSelfConversation):
				a.sendError(conn, "self_conversation", "cannot open a conversation with yourself")
			case errors.Is(err, convo.ErrMissingUser):
				a.sendError(conn, "missing_user", "user id is required")
			default:
				log.Printf("open_direct user=%s target=%s: %v", userID, openMsg.UserID, err)
				a.sendError(conn, "internal_error", "could not open conversation")
			}
			return
		}
		outcome := "existing"
		if created {
			outcome = "created"
		}
		metrics.ResolveTotal.WithLabelValues(outcome).Inc()

		a.subscribeConversation(conn, c.ID)
		a.send(conn, protocol.TypeDirectOpened, protocol.DirectOpenedMsg{
			ConversationID: c.ID,
			PartnerID:      c.Other(userID),
			Created:        created,
		})
		log.Printf("open_direct user=%s partner=%s conv=%s created=%v",
			userID, openMsg.UserID, c.ID, created)
	})

	// -----------------------------------------------------------------------
	// message — send a chat message into a conversation
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		chatMsg, ok := msg.(protocol.ChatMsg)
		if !ok {
			return
		}
		ctx := context.Background()
		userID := conn.UserID()

		allowed, _ := a.limiter.Allow(ctx, userID, ratelimit.RuleMessage)
		if !allowed {
			a.sendRateLimited(conn, ratelimit.RuleMessage)
			return
		}

		state := a.client(conn.ID)
		if state == nil {
			a.sendError(conn, "unauthenticated", "authenticate first")
			return
		}

		c, err := a.convos.Get(ctx, chatMsg.ConversationID)
		if err != nil {
			if errors.Is(err, convo.ErrNotFound) {
				a.sendError(conn, "unknown_conversation", "conversation does not exist")
				return
			}
			log.Printf("message: load conv=%s: %v", chatMsg.ConversationID, err)
			a.sendError(conn, "internal_error", "could not send message")
			return
		}

		start := time.Now()
		_, err = a.messages.Send(ctx, c, userID,
			state.profile.DisplayName, state.profile.AvatarURL(), chatMsg.Text)
		if err != nil {
			switch {
			case errors.Is(err, message.ErrNotParticipant):
				metrics.MessagesRejected.WithLabelValues("not_participant").Inc()
				a.sendError(conn, "not_participant", "you are not part of this conversation")
			case errors.Is(err, message.ErrSpam):
				metrics.MessagesRejected.WithLabelValues("spam").Inc()
				a.sendError(conn, "spam_detected", "message looks like spam")
			default:
				metrics.MessagesRejected.WithLabelValues("invalid").Inc()
				a.sendError(conn, "invalid_message", err.Error())
			}
			return
		}
		metrics.MessagesTotal.WithLabelValues(c.Type).Inc()
		metrics.MessageLatency.Observe(time.Since(start).Seconds())
	})

	// -----------------------------------------------------------------------
	// history — recent messages of a conversation, oldest first
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeHistory, func(conn *ws.Connection, msg interface{}) {
		histMsg, ok := msg.(protocol.HistoryMsg)
		if !ok {
			return
		}
		ctx := context.Background()
		userID := conn.UserID()

		c, err := a.convos.Get(ctx, histMsg.ConversationID)
		if err != nil {
			if errors.Is(err, convo.ErrNotFound) {
				a.sendError(conn, "unknown_conversation", "conversation does not exist")
				return
			}
			log.Printf("history: load conv=%s: %v", histMsg.ConversationID, err)
			a.sendError(conn, "internal_error", "could not load history")
			return
		}
		if !c.Has(userID) {
			a.sendError(conn, "not_participant", "you are not part of this conversation")
			return
		}

		msgs, err := a.messages.History(ctx, c)
		if err != nil {
			log.Printf("history: conv=%s: %v", c.ID, err)
			a.sendError(conn, "internal_error", "could not load history")
			return
		}
		infos := make([]protocol.MessageInfo, 0, len(msgs))
		for _, m := range msgs {
			infos = append(infos, messageInfo(m))
		}
		a.send(conn, protocol.TypeHistoryResult, protocol.HistoryResultMsg{
			ConversationID: c.ID,
			Messages:       infos,
		})
	})

	// -----------------------------------------------------------------------
	// list_conversations — the client's sidebar, global room first
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeListConversations, func(conn *ws.Connection, msg interface{}) {
		ctx := context.Background()
		userID := conn.UserID()

		list := make([]protocol.ConversationInfo, 0, 8)
		if g, err := a.convos.Get(ctx, convo.GlobalID); err == nil {
			list = append(list, conversationInfo(g, userID))
		}

		convos, err := a.convos.ListDirectFor(ctx, userID)
		if err != nil {
			log.Printf("list_conversations user=%s: %v", userID, err)
			a.sendError(conn, "internal_error", "could not list conversations")
			return
		}
		for _, c := range convos {
			list = append(list, conversationInfo(c, userID))
		}
		a.send(conn, protocol.TypeConversationList, protocol.ConversationListMsg{
			Conversations: list,
		})
	})

	// -----------------------------------------------------------------------
	// search_users — find users to start a conversation with
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSearchUsers, func(conn *ws.Connection, msg interface{}) {
		searchMsg, ok := msg.(protocol.SearchUsersMsg)
		if !ok {
			return
		}
		ctx := context.Background()
		userID := conn.UserID()

		allowed, _ := a.limiter.Allow(ctx, userID, ratelimit.RuleSearch)
		if !allowed {
			a.sendRateLimited(conn, ratelimit.RuleSearch)
			return
		}

		results, err := a.profiles.Search(ctx, userID, searchMsg.Query)
		if err != nil {
			log.Printf("search_users user=%s: %v", userID, err)
			a.sendError(conn, "internal_error", "search failed")
			return
		}
		users := make([]protocol.UserInfo, 0, len(results))
		for _, p := range results {
			users = append(users, protocol.UserInfo{
				UserID:      p.UserID,
				DisplayName: p.DisplayName,
				Email:       p.PublicEmail(),
				AvatarURL:   p.AvatarURL(),
			})
		}
		a.send(conn, protocol.TypeUserResults, protocol.UserResultsMsg{
			Query: searchMsg.Query,
			Users: users,
		})
	})

	// -----------------------------------------------------------------------
	// get_profile — view a user's profile
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeGetProfile, func(conn *ws.Connection, msg interface{}) {
		getMsg, ok := msg.(protocol.GetProfileMsg)
		if !ok {
			return
		}
		ctx := context.Background()
		userID := conn.UserID()

		target := getMsg.UserID
		if target == "" {
			target = userID
		}
		p, err := a.profiles.Get(ctx, target)
		if err != nil {
			if errors.Is(err, profile.ErrNotFound) {
				a.sendError(conn, "unknown_user", "user does not exist")
				return
			}
			log.Printf("get_profile user=%s: %v", target, err)
			a.sendError(conn, "internal_error", "could not load profile")
			return
		}
		a.send(conn, protocol.TypeProfile, protocol.ProfileMsg{
			Profile: profileInfo(p, userID),
		})
	})

	// -----------------------------------------------------------------------
	// update_profile — edit display name and email visibility
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeUpdateProfile, func(conn *ws.Connection, msg interface{}) {
		updMsg, ok := msg.(protocol.UpdateProfileMsg)
		if !ok {
			return
		}
		ctx := context.Background()
		userID := conn.UserID()

		allowed, _ := a.limiter.Allow(ctx, userID, ratelimit.RuleProfileUpdate)
		if !allowed {
			a.sendRateLimited(conn, ratelimit.RuleProfileUpdate)
			return
		}

		name, err := profile.ValidateDisplayName(updMsg.DisplayName)
		if err != nil {
			a.sendError(conn, "invalid_name", err.Error())
			return
		}

		if err := a.profiles.UpdateSettings(ctx, userID, name, updMsg.HideEmail); err != nil {
			log.Printf("update_profile user=%s: %v", userID, err)
			a.sendError(conn, "internal_error", "could not update profile")
			return
		}
		p, err := a.profiles.Get(ctx, userID)
		if err != nil {
			log.Printf("update_profile: read-back user=%s: %v", userID, err)
			a.sendError(conn, "internal_error", "could not update profile")
			return
		}

		a.mu.Lock()
		if state := a.clients[conn.ID]; state != nil {
			state.profile = p
		}
		a.mu.Unlock()

		a.send(conn, protocol.TypeProfile, protocol.ProfileMsg{
			Profile: profileInfo(p, userID),
		})
		log.Printf("update_profile user=%s name=%q hide_email=%v", userID, name, updMsg.HideEmail)
	})

	// -----------------------------------------------------------------------
	// watch_status — live presence updates for another user
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeWatchStatus, func(conn *ws.Connection, msg interface{}) {
		watchMsg, ok := msg.(protocol.WatchStatusMsg)
		if !ok {
			return
		}
		ctx := context.Background()

		state := a.client(conn.ID)
		if state == nil {
			a.sendError(conn, "unauthenticated", "authenticate first")
			return
		}

		a.mu.Lock()
		_, watching := state.watches[watchMsg.UserID]
		a.mu.Unlock()
		if watching {
			// Already watching: resend the current value rather than stacking
			// a second subscription.
			st, err := a.tracker.Current(ctx, watchMsg.UserID)
			if err == nil {
				a.send(conn, protocol.TypeStatus, statusMsg(st))
			}
			return
		}

		watch, err := a.tracker.ObserveStatus(ctx, watchMsg.UserID)
		if err != nil {
			if errors.Is(err, presence.ErrMissingUser) {
				a.sendError(conn, "missing_user", "user id is required")
				return
			}
			log.Printf("watch_status user=%s: %v", watchMsg.UserID, err)
			a.sendError(conn, "internal_error", "could not watch status")
			return
		}

		if !a.putWatch(conn.ID, watchMsg.UserID, state, watch) {
			// The connection went away while the watch was being set up.
			_ = watch.Close()
			return
		}

		go func() {
			for st := range watch.Updates() {
				a.send(conn, protocol.TypeStatus, statusMsg(st))
			}
		}()
	})

	// -----------------------------------------------------------------------
	// unwatch_status — cancel a presence subscription
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeUnwatchStatus, func(conn *ws.Connection, msg interface{}) {
		unwatchMsg, ok := msg.(protocol.UnwatchStatusMsg)
		if !ok {
			return
		}

		state := a.client(conn.ID)
		if state == nil {
			return
		}

		a.mu.Lock()
		watch := state.watches[unwatchMsg.UserID]
		delete(state.watches, unwatchMsg.UserID)
		a.mu.Unlock()

		if watch != nil {
			_ = watch.Close()
		}
	})
}

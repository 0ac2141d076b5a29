// ABOUTME: Typed remote operations shared by both adapters
// ABOUTME: Each operation maps to one gateway endpoint and decodes its reply

package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/2389/pie-bridge/internal/message"
)

// API is the set of remote operations a plugin can issue through the gateway.
type API interface {
	MessageFromID(ctx context.Context, messageID, target int64) (*DataResult[json.RawMessage], error)
	SendFriendMessage(ctx context.Context, target int64, chain message.Chain) (*SendResult, error)
	SendGroupMessage(ctx context.Context, group int64, chain message.Chain) (*SendResult, error)
	SendTempMessage(ctx context.Context, qq, group int64, chain message.Chain) (*SendResult, error)
	SendNudge(ctx context.Context, target, subject int64, kind string) (*Response, error)
	Recall(ctx context.Context, messageID, target int64) (*Response, error)

	FriendList(ctx context.Context) (*ListResult[Friend], error)
	GroupList(ctx context.Context) (*ListResult[GroupInfo], error)
	MemberList(ctx context.Context, group int64) (*ListResult[Member], error)
	BotProfile(ctx context.Context) (*Profile, error)
	FriendProfile(ctx context.Context, target int64) (*Profile, error)
	MemberProfile(ctx context.Context, group, member int64) (*Profile, error)
	DeleteFriend(ctx context.Context, target int64) (*Response, error)

	Mute(ctx context.Context, group, member int64, d time.Duration) (*Response, error)
	Unmute(ctx context.Context, group, member int64) (*Response, error)
	Kick(ctx context.Context, group, member int64, msg string) (*Response, error)
	Quit(ctx context.Context, group int64) (*Response, error)
	MuteAll(ctx context.Context, group int64) (*Response, error)
	UnmuteAll(ctx context.Context, group int64) (*Response, error)
	SetEssence(ctx context.Context, messageID, target int64) (*Response, error)
	GroupConfig(ctx context.Context, group int64) (*GroupConfig, error)
	UpdateGroupConfig(ctx context.Context, group int64, cfg GroupConfig) (*Response, error)
	MemberInfo(ctx context.Context, group, member int64) (*Member, error)
	UpdateMemberInfo(ctx context.Context, group, member int64, info MemberInfoUpdate) (*Response, error)

	FileList(ctx context.Context, group int64, dirID string, offset, size int) (*ListResult[FileInfo], error)
	FileInfo(ctx context.Context, group int64, id string) (*DataResult[FileInfo], error)
	FileMkdir(ctx context.Context, group int64, parentID, name string) (*DataResult[FileInfo], error)
	FileDelete(ctx context.Context, group int64, id string) (*Response, error)
	FileMove(ctx context.Context, group int64, id, moveTo string) (*Response, error)
	FileRename(ctx context.Context, group int64, id, name string) (*Response, error)

	RespondFriendRequest(ctx context.Context, r RequestResponse) (*Response, error)
	RespondMemberJoinRequest(ctx context.Context, r RequestResponse) (*Response, error)
	RespondGroupInvite(ctx context.Context, r RequestResponse) (*Response, error)
}

// endpoint names one remote operation. The streaming adapter sends command and
// subCommand in the frame; the polling adapter derives the HTTP path from command.
type endpoint struct {
	command    string
	subCommand string
	method     string // GET or POST for the polling adapter
}

func get(command, sub string) endpoint  { return endpoint{command: command, subCommand: sub, method: "GET"} }
func post(command, sub string) endpoint { return endpoint{command: command, subCommand: sub, method: "POST"} }

// path returns the HTTP path: "file_list" becomes "/file/list".
func (e endpoint) path() string {
	return "/" + strings.ReplaceAll(e.command, "_", "/")
}

// caller is the transport strategy behind Client.
type caller interface {
	call(ctx context.Context, ep endpoint, payload any) (json.RawMessage, error)
}

// Client implements API over a caller.
type Client struct {
	caller caller
	logger *slog.Logger
}

// do issues the call, logs non-success codes with the payload, and decodes into out.
func (c *Client) do(ctx context.Context, ep endpoint, payload any, out any) error {
	raw, err := c.caller.call(ctx, ep, payload)
	if err != nil {
		return fmt.Errorf("%s: %w", ep.command, err)
	}

	if code := gjson.GetBytes(raw, "code"); code.Exists() && code.Int() != CodeSuccess {
		c.logger.Warn("gateway returned non-success code",
			"command", ep.command,
			"sub_command", ep.subCommand,
			"code", code.Int(),
			"msg", gjson.GetBytes(raw, "msg").String(),
			"payload", payload,
		)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", ep.command, err)
	}
	return nil
}

func doInto[T any](ctx context.Context, c *Client, ep endpoint, payload any) (*T, error) {
	var out T
	if err := c.do(ctx, ep, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type targetBody struct {
	Target int64 `json:"target"`
}

type groupBody struct {
	Target int64 `json:"target"`
}

type memberBody struct {
	Target   int64 `json:"target"`
	MemberID int64 `json:"memberId"`
}

type sendBody struct {
	Target       int64         `json:"target,omitempty"`
	QQ           int64         `json:"qq,omitempty"`
	Group        int64         `json:"group,omitempty"`
	MessageChain message.Chain `json:"messageChain"`
}

type messageRefBody struct {
	MessageID int64 `json:"messageId"`
	Target    int64 `json:"target"`
}

type fileBody struct {
	ID     string `json:"id,omitempty"`
	Path   string `json:"path,omitempty"`
	Target int64  `json:"target"`
	Offset int    `json:"offset,omitempty"`
	Size   int    `json:"size,omitempty"`

	DirectoryName string `json:"directoryName,omitempty"`
	MoveTo        string `json:"moveTo,omitempty"`
	RenameTo      string `json:"renameTo,omitempty"`
}

func (c *Client) MessageFromID(ctx context.Context, messageID, target int64) (*DataResult[json.RawMessage], error) {
	return doInto[DataResult[json.RawMessage]](ctx, c, get("messageFromId", ""), messageRefBody{MessageID: messageID, Target: target})
}

func (c *Client) SendFriendMessage(ctx context.Context, target int64, chain message.Chain) (*SendResult, error) {
	return doInto[SendResult](ctx, c, post("sendFriendMessage", ""), sendBody{Target: target, MessageChain: chain})
}

func (c *Client) SendGroupMessage(ctx context.Context, group int64, chain message.Chain) (*SendResult, error) {
	return doInto[SendResult](ctx, c, post("sendGroupMessage", ""), sendBody{Target: group, MessageChain: chain})
}

func (c *Client) SendTempMessage(ctx context.Context, qq, group int64, chain message.Chain) (*SendResult, error) {
	return doInto[SendResult](ctx, c, post("sendTempMessage", ""), sendBody{QQ: qq, Group: group, MessageChain: chain})
}

func (c *Client) SendNudge(ctx context.Context, target, subject int64, kind string) (*Response, error) {
	body := struct {
		Target  int64  `json:"target"`
		Subject int64  `json:"subject"`
		Kind    string `json:"kind"`
	}{target, subject, kind}
	return doInto[Response](ctx, c, post("sendNudge", ""), body)
}

func (c *Client) Recall(ctx context.Context, messageID, target int64) (*Response, error) {
	return doInto[Response](ctx, c, post("recall", ""), messageRefBody{MessageID: messageID, Target: target})
}

func (c *Client) FriendList(ctx context.Context) (*ListResult[Friend], error) {
	return doInto[ListResult[Friend]](ctx, c, get("friendList", ""), nil)
}

func (c *Client) GroupList(ctx context.Context) (*ListResult[GroupInfo], error) {
	return doInto[ListResult[GroupInfo]](ctx, c, get("groupList", ""), nil)
}

func (c *Client) MemberList(ctx context.Context, group int64) (*ListResult[Member], error) {
	return doInto[ListResult[Member]](ctx, c, get("memberList", ""), groupBody{Target: group})
}

func (c *Client) BotProfile(ctx context.Context) (*Profile, error) {
	return doInto[Profile](ctx, c, get("botProfile", ""), nil)
}

func (c *Client) FriendProfile(ctx context.Context, target int64) (*Profile, error) {
	return doInto[Profile](ctx, c, get("friendProfile", ""), targetBody{Target: target})
}

func (c *Client) MemberProfile(ctx context.Context, group, member int64) (*Profile, error) {
	return doInto[Profile](ctx, c, get("memberProfile", ""), memberBody{Target: group, MemberID: member})
}

func (c *Client) DeleteFriend(ctx context.Context, target int64) (*Response, error) {
	return doInto[Response](ctx, c, post("deleteFriend", ""), targetBody{Target: target})
}

func (c *Client) Mute(ctx context.Context, group, member int64, d time.Duration) (*Response, error) {
	body := struct {
		Target   int64 `json:"target"`
		MemberID int64 `json:"memberId"`
		Time     int64 `json:"time"`
	}{group, member, int64(d / time.Second)}
	return doInto[Response](ctx, c, post("mute", ""), body)
}

func (c *Client) Unmute(ctx context.Context, group, member int64) (*Response, error) {
	return doInto[Response](ctx, c, post("unmute", ""), memberBody{Target: group, MemberID: member})
}

func (c *Client) Kick(ctx context.Context, group, member int64, msg string) (*Response, error) {
	body := struct {
		Target   int64  `json:"target"`
		MemberID int64  `json:"memberId"`
		Msg      string `json:"msg"`
	}{group, member, msg}
	return doInto[Response](ctx, c, post("kick", ""), body)
}

func (c *Client) Quit(ctx context.Context, group int64) (*Response, error) {
	return doInto[Response](ctx, c, post("quit", ""), groupBody{Target: group})
}

func (c *Client) MuteAll(ctx context.Context, group int64) (*Response, error) {
	return doInto[Response](ctx, c, post("muteAll", ""), groupBody{Target: group})
}

func (c *Client) UnmuteAll(ctx context.Context, group int64) (*Response, error) {
	return doInto[Response](ctx, c, post("unmuteAll", ""), groupBody{Target: group})
}

func (c *Client) SetEssence(ctx context.Context, messageID, target int64) (*Response, error) {
	return doInto[Response](ctx, c, post("setEssence", ""), messageRefBody{MessageID: messageID, Target: target})
}

func (c *Client) GroupConfig(ctx context.Context, group int64) (*GroupConfig, error) {
	return doInto[GroupConfig](ctx, c, get("groupConfig", "get"), groupBody{Target: group})
}

func (c *Client) UpdateGroupConfig(ctx context.Context, group int64, cfg GroupConfig) (*Response, error) {
	body := struct {
		Target int64       `json:"target"`
		Config GroupConfig `json:"config"`
	}{group, cfg}
	return doInto[Response](ctx, c, post("groupConfig", "update"), body)
}

func (c *Client) MemberInfo(ctx context.Context, group, member int64) (*Member, error) {
	return doInto[Member](ctx, c, get("memberInfo", "get"), memberBody{Target: group, MemberID: member})
}

func (c *Client) UpdateMemberInfo(ctx context.Context, group, member int64, info MemberInfoUpdate) (*Response, error) {
	body := struct {
		Target   int64            `json:"target"`
		MemberID int64            `json:"memberId"`
		Info     MemberInfoUpdate `json:"info"`
	}{group, member, info}
	return doInto[Response](ctx, c, post("memberInfo", "update"), body)
}

func (c *Client) FileList(ctx context.Context, group int64, dirID string, offset, size int) (*ListResult[FileInfo], error) {
	return doInto[ListResult[FileInfo]](ctx, c, get("file_list", ""), fileBody{ID: dirID, Target: group, Offset: offset, Size: size})
}

func (c *Client) FileInfo(ctx context.Context, group int64, id string) (*DataResult[FileInfo], error) {
	return doInto[DataResult[FileInfo]](ctx, c, get("file_info", ""), fileBody{ID: id, Target: group})
}

func (c *Client) FileMkdir(ctx context.Context, group int64, parentID, name string) (*DataResult[FileInfo], error) {
	return doInto[DataResult[FileInfo]](ctx, c, post("file_mkdir", ""), fileBody{ID: parentID, Target: group, DirectoryName: name})
}

func (c *Client) FileDelete(ctx context.Context, group int64, id string) (*Response, error) {
	return doInto[Response](ctx, c, post("file_delete", ""), fileBody{ID: id, Target: group})
}

func (c *Client) FileMove(ctx context.Context, group int64, id, moveTo string) (*Response, error) {
	return doInto[Response](ctx, c, post("file_move", ""), fileBody{ID: id, Target: group, MoveTo: moveTo})
}

func (c *Client) FileRename(ctx context.Context, group int64, id, name string) (*Response, error) {
	return doInto[Response](ctx, c, post("file_rename", ""), fileBody{ID: id, Target: group, RenameTo: name})
}

func (c *Client) RespondFriendRequest(ctx context.Context, r RequestResponse) (*Response, error) {
	return doInto[Response](ctx, c, post("resp_newFriendRequestEvent", ""), r)
}

func (c *Client) RespondMemberJoinRequest(ctx context.Context, r RequestResponse) (*Response, error) {
	return doInto[Response](ctx, c, post("resp_memberJoinRequestEvent", ""), r)
}

func (c *Client) RespondGroupInvite(ctx context.Context, r RequestResponse) (*Response, error) {
	return doInto[Response](ctx, c, post("resp_botInvitedJoinGroupRequestEvent", ""), r)
}

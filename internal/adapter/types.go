// ABOUTME: Typed request and response bodies for remote gateway operations
// ABOUTME: Every response embeds Response so callers can inspect the gateway status code

package adapter

// Response is the status envelope every gateway reply carries. Code 0 is success.
type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// OK reports whether the gateway accepted the call.
func (r Response) OK() bool { return r.Code == 0 }

// Gateway status codes the adapters act on.
const (
	CodeSuccess         = 0
	CodeWrongVerifyKey  = 1
	CodeBotNotFound     = 2
	CodeInvalidSession  = 3
	CodeSessionInactive = 4
)

// SendResult is returned by the send operations.
type SendResult struct {
	Response
	MessageID int64 `json:"messageId"`
}

// ListResult wraps list queries.
type ListResult[T any] struct {
	Response
	Data []T `json:"data"`
}

// DataResult wraps single-value queries.
type DataResult[T any] struct {
	Response
	Data T `json:"data"`
}

// Friend is a contact in the bot's friend list.
type Friend struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
	Remark   string `json:"remark"`
}

// GroupInfo is a group the bot is in.
type GroupInfo struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Permission string `json:"permission"`
}

// Member is a group member.
type Member struct {
	ID                 int64     `json:"id"`
	MemberName         string    `json:"memberName"`
	SpecialTitle       string    `json:"specialTitle"`
	Permission         string    `json:"permission"`
	JoinTimestamp      int64     `json:"joinTimestamp"`
	LastSpeakTimestamp int64     `json:"lastSpeakTimestamp"`
	MuteTimeRemaining  int64     `json:"muteTimeRemaining"`
	Group              GroupInfo `json:"group"`
}

// Profile is a user profile card.
type Profile struct {
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
	Age      int    `json:"age"`
	Level    int    `json:"level"`
	Sign     string `json:"sign"`
	Sex      string `json:"sex"`
}

// GroupConfig is the editable group configuration.
type GroupConfig struct {
	Name              string `json:"name,omitempty"`
	Announcement      string `json:"announcement,omitempty"`
	ConfessTalk       bool   `json:"confessTalk"`
	AllowMemberInvite bool   `json:"allowMemberInvite"`
	AutoApprove       bool   `json:"autoApprove"`
	AnonymousChat     bool   `json:"anonymousChat"`
	MuteAll           bool   `json:"muteAll"`
}

// MemberInfoUpdate carries the editable member fields.
type MemberInfoUpdate struct {
	Name         string `json:"name,omitempty"`
	SpecialTitle string `json:"specialTitle,omitempty"`
}

// FileInfo describes a group file or directory.
type FileInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Parent      *FileInfo `json:"parent,omitempty"`
	Contact     GroupInfo `json:"contact"`
	IsFile      bool      `json:"isFile"`
	IsDirectory bool      `json:"isDirectory"`
}

// RequestOperate is the decision sent back for friend/join/invite requests.
type RequestOperate int

const (
	OperateAccept RequestOperate = 0
	OperateReject RequestOperate = 1
	// OperateIgnore and the blacklist variants only apply to join requests.
	OperateIgnore          RequestOperate = 2
	OperateRejectBlacklist RequestOperate = 3
	OperateIgnoreBlacklist RequestOperate = 4
)

// RequestResponse answers a NewFriendRequestEvent, MemberJoinRequestEvent or
// BotInvitedJoinGroupRequestEvent.
type RequestResponse struct {
	EventID int64          `json:"eventId"`
	FromID  int64          `json:"fromId"`
	GroupID int64          `json:"groupId"`
	Operate RequestOperate `json:"operate"`
	Message string         `json:"message"`
}

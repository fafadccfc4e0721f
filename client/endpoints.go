package client

// The service's endpoint map. These are fixed by the third-party
// server; protocol details may drift and exact wire compatibility with
// a live deployment is not guaranteed.
const (
	// Referer is demanded on every call, login phase included
	Referer = "http://s.web2.qq.com/proxy.html?v=20110412001&callback=1&id=1"

	challengeURL = "http://check.ptlogin2.qq.com/check"
	captchaURL   = "http://captcha.qq.com/getimage"
	loginURL     = "http://ptlogin2.qq.com/login"
	logoutURL    = "http://s.web2.qq.com/channel/logout2"

	// establishURL trades the login ticket for the long-poll session
	// identifiers. The ptwebqq cookie it reads is set during login.
	establishURL = "http://d.web2.qq.com/channel/login2"

	contactsURL      = "http://s.web2.qq.com/api/get_user_friends2"
	onlineBuddiesURL = "http://d.web2.qq.com/channel/get_online_buddies2"
	groupsURL        = "http://s.web2.qq.com/api/get_group_name_list_mask2"
	groupInfoURL     = "http://s.web2.qq.com/api/get_group_info_ext2"
	groupSigURL      = "http://d.web2.qq.com/channel/get_c2cmsg_sig2"
	strangerInfoURL  = "http://s.web2.qq.com/api/get_stranger_info2"
	changeStatusURL  = "http://d.web2.qq.com/channel/change_status2"

	pollURL        = "http://d.web2.qq.com/channel/poll2"
	sendBuddyURL   = "http://d.web2.qq.com/channel/send_buddy_msg2"
	sendGroupURL   = "http://d.web2.qq.com/channel/send_qun_msg2"
	sendSessionURL = "http://d.web2.qq.com/channel/send_sess_msg2"

	// avatarURLPattern is sharded across ten hosts server-side
	avatarURLPattern = "http://face%d.qun.qq.com/cgi/svr/face/getface"
)

// sessionCookieName is the transport cookie establishSession reads
const sessionCookieName = "ptwebqq"

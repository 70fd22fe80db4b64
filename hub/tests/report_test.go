package tests

import (
	"strings"
	"testing"

	"patchhub/hub/schema"
)

func TestReportFanoutToAllAdmins(t *testing.T) {
	env := setupTestEnv(t)

	admins := make([]client, 0, 3)
	root, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	admins = append(admins, root)

	for _, name := range []string{"mod1", "mod2"} {
		mod, err := env.newAdmin(name)
		if err != nil {
			t.Fatal(err)
		}
		admins = append(admins, mod)
	}

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}
	bystander, err := env.newUser("xyz")
	if err != nil {
		t.Fatal(err)
	}

	patchId, err := user.createPatch("suspicious-patch", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := bystander.fileReport("patch", patchId, "contains malware"); err != nil {
		t.Fatal(err)
	}

	// Every admin receives their own copy with the same content and link.
	var content, link string
	for i, admin := range admins {
		messages, err := admin.listMessages("?type=report")
		if err != nil {
			t.Fatal(err)
		}
		if len(messages) != 1 {
			t.Fatalf("admin %d expected 1 report message, got %d", i, len(messages))
		}

		msg := messages[0]
		if msg.Type != schema.MessageReport || msg.SenderName != "xyz" {
			t.Fatalf("invalid report message %v", msg)
		}
		if !strings.Contains(msg.Content, "suspicious-patch") || !strings.Contains(msg.Content, "contains malware") {
			t.Fatalf("invalid report content %v", msg.Content)
		}

		if i == 0 {
			content, link = msg.Content, msg.Link
		} else if msg.Content != content || msg.Link != link {
			t.Fatalf("fan-out copies should be identical, got %v / %v", msg.Content, content)
		}
	}

	// Regular users receive nothing.
	messages, err := user.listMessages("?type=report")
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 0 {
		t.Fatalf("non-admin should receive no report messages, got %d", len(messages))
	}
}

func TestReportMissingTargetStillFansOut(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	// Target resolution is advisory: a vanished target must not block
	// the report itself.
	if err := user.fileReport("patch", 99999, "broken link"); err != nil {
		t.Fatal(err)
	}

	messages, err := admin.listMessages("?type=report")
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 1 || !strings.Contains(messages[0].Content, "broken link") {
		t.Fatalf("expected report message, got %v", messages)
	}

	if err := user.fileReport("bogus", 1, "reason"); err == nil {
		t.Fatal("invalid target type should fail")
	}
}

func TestDuplicateReportsAreNotDeduped(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	patchId, err := user.createPatch("suspicious-patch", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Reports go through the plain primitive: filing twice reaches the
	// admins twice.
	for i := 0; i < 2; i++ {
		if err := user.fileReport("patch", patchId, "stolen content"); err != nil {
			t.Fatal(err)
		}
	}

	messages, err := admin.listMessages("?type=report")
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 report messages, got %d", len(messages))
	}
}

func TestHandleReportExactlyOnce(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	patchId, err := user.createPatch("suspicious-patch", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := user.fileReport("patch", patchId, "contains malware"); err != nil {
		t.Fatal(err)
	}

	reports, err := admin.listMessages("?type=report")
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	reportId := reports[0].Id

	if err := user.handleReport(reportId, "removed"); err == nil {
		t.Fatal("non-admin should not be able to handle reports")
	}

	if err := admin.handleReport(reportId, "removed the patch"); err != nil {
		t.Fatal(err)
	}

	// The reporter gets the resolution message.
	replies, err := user.listMessages("?type=report")
	if err != nil {
		t.Fatal(err)
	}
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
	if !strings.Contains(replies[0].Content, "已被处理") || !strings.Contains(replies[0].Content, "removed the patch") {
		t.Fatalf("invalid reply content %v", replies[0].Content)
	}

	// A second resolution must be rejected and must not produce a
	// second reply.
	err = admin.handleReport(reportId, "handled again")
	if err == nil || !strings.Contains(err.Error(), "该举报已被处理") {
		t.Fatalf("expected already handled error, got %v", err)
	}

	replies, err = user.listMessages("?type=report")
	if err != nil {
		t.Fatal(err)
	}
	if len(replies) != 1 {
		t.Fatalf("expected still 1 reply, got %d", len(replies))
	}

	if err := admin.handleReport(99999, "reply"); err == nil {
		t.Fatal("handling a missing message should fail")
	}
}

func TestHandleFeedbackWithoutReply(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	if err := user.fileFeedback("please add dark mode"); err != nil {
		t.Fatal(err)
	}

	feedback, err := admin.listMessages("?type=feedback")
	if err != nil {
		t.Fatal(err)
	}
	if len(feedback) != 1 || !strings.Contains(feedback[0].Content, "please add dark mode") {
		t.Fatalf("invalid feedback messages %v", feedback)
	}
	feedbackId := feedback[0].Id

	// A report handler cannot resolve a feedback message.
	if err := admin.handleReport(feedbackId, "reply"); err == nil {
		t.Fatal("handling feedback through the report endpoint should fail")
	}

	// An empty reply falls back to the placeholder.
	if err := admin.handleFeedback(feedbackId, "   "); err != nil {
		t.Fatal(err)
	}

	replies, err := user.listMessages("?type=feedback")
	if err != nil {
		t.Fatal(err)
	}
	if len(replies) != 1 || !strings.Contains(replies[0].Content, "无处理留言") {
		t.Fatalf("expected placeholder reply, got %v", replies)
	}

	err = admin.handleFeedback(feedbackId, "again")
	if err == nil || !strings.Contains(err.Error(), "该反馈已被处理") {
		t.Fatalf("expected already handled error, got %v", err)
	}

	if err := user.fileFeedback("   "); err == nil {
		t.Fatal("blank feedback should fail")
	}
}

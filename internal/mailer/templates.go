package mailer

import (
	"bytes"
	"fmt"
	"html/template"
)

// templateData feeds all three mail templates. IsNewUser only matters for
// the magic-link greeting.
type templateData struct {
	Link        string
	DisplayName string
	IsNewUser   bool
}

var (
	verificationTmpl  = template.Must(template.New("verification").Parse(verificationHTML))
	passwordResetTmpl = template.Must(template.New("password_reset").Parse(passwordResetHTML))
	magicLinkTmpl     = template.Must(template.New("magic_link").Parse(magicLinkHTML))
)

func render(t *template.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", t.Name(), err)
	}
	return buf.String(), nil
}

const verificationHTML = `<!doctype html>
<html>
  <body style="font-family:Arial,Helvetica,sans-serif; line-height:1.4;">
    <h2>Verify your email</h2>
    <p>Hi {{.DisplayName}},</p>
    <p>Click the button below to verify your email address. The link is valid for 24 hours.</p>
    <p>
      <a href="{{.Link}}" style="display:inline-block; padding:10px 14px; text-decoration:none; border-radius:6px; background:#111; color:#fff;">
        Verify email
      </a>
    </p>
    <p style="color:#555; font-size:12px;">
      If the button doesn't work, open this link:<br/>
      <a href="{{.Link}}">{{.Link}}</a>
    </p>
    <p style="color:#555; font-size:12px;">If you did not create an account, you can ignore this email.</p>
  </body>
</html>`

const passwordResetHTML = `<!doctype html>
<html>
  <body style="font-family:Arial,Helvetica,sans-serif; line-height:1.4;">
    <h2>Reset your password</h2>
    <p>Hi {{.DisplayName}},</p>
    <p>Click the button below to choose a new password. The link is valid for 1 hour and can be used once.</p>
    <p>
      <a href="{{.Link}}" style="display:inline-block; padding:10px 14px; text-decoration:none; border-radius:6px; background:#111; color:#fff;">
        Reset password
      </a>
    </p>
    <p style="color:#555; font-size:12px;">
      If the button doesn't work, open this link:<br/>
      <a href="{{.Link}}">{{.Link}}</a>
    </p>
    <p style="color:#555; font-size:12px;">If you did not request a reset, you can ignore this email. Your password stays unchanged.</p>
  </body>
</html>`

const magicLinkHTML = `<!doctype html>
<html>
  <body style="font-family:Arial,Helvetica,sans-serif; line-height:1.4;">
    {{if .IsNewUser}}
    <h2>Welcome!</h2>
    <p>Hi {{.DisplayName}}, your account has been created. Sign in with the button below.</p>
    {{else}}
    <h2>Your sign-in link</h2>
    <p>Hi {{.DisplayName}}, click the button below to sign in.</p>
    {{end}}
    <p>
      <a href="{{.Link}}" style="display:inline-block; padding:10px 14px; text-decoration:none; border-radius:6px; background:#111; color:#fff;">
        Sign in
      </a>
    </p>
    <p style="color:#555; font-size:12px;">
      If the button doesn't work, open this link:<br/>
      <a href="{{.Link}}">{{.Link}}</a>
    </p>
    {{if .IsNewUser}}
    <p style="color:#555; font-size:12px;">The link is valid for 15 minutes and can be used once.</p>
    {{else}}
    <p style="color:#555; font-size:12px;">The link is valid for 15 minutes and can be used once. If you did not request it, someone may have entered your address by mistake; no action is needed.</p>
    {{end}}
  </body>
</html>`

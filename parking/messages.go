package parking

import (
	"fmt"
	"strings"
	"time"

	"github.com/everydev1618/pmc/store"
)

func codeOrNA(u *store.User) string {
	if u.ReferralCode == "" {
		return "N/A"
	}
	return u.ReferralCode
}

// PaywallMessage explains how to unlock notifications through referrals.
func PaywallMessage(u *store.User, referralDays int) string {
	code := codeOrNA(u)
	return fmt.Sprintf(`🔒 *Función Premium - Notificaciones*

Las notificaciones automáticas de cupos disponibles son una función *Premium*.

🌟 *¿Cómo obtener Premium gratis?*

Comparte tu código de referido con tus amigos:
📋 Tu código: `+"`%[1]s`"+`

*¡Por cada amigo que use tu código, obtienes %[2]d días gratis!*

📊 Tus estadísticas:
• Referidos actuales: %[3]d
• Días premium ganados: %[4]d

💡 *Cómo funciona:*
1. Comparte tu código `+"`%[1]s`"+` con amigos
2. Ellos lo ingresan al registrarse
3. ¡Automáticamente recibes %[2]d días premium por cada uno!

_Próximamente: Opción de pago para Premium ilimitado_`,
		code, referralDays, u.ReferralCount, u.ReferralCount*referralDays)
}

// ReportReminderMessage thanks a reporter and nudges them to share their code.
func ReportReminderMessage(u *store.User, access Access, referralDays int) string {
	code := codeOrNA(u)
	if access.Active {
		return fmt.Sprintf(`✅ *¡Gracias por reportar!*

🎁 *Sigue ganando días premium:*

Tu código: `+"`%s`"+`
Referidos: %d
Días premium restantes: %d

Comparte tu código y obtén *%d días más* por cada amigo. 🚀`,
			code, u.ReferralCount, access.DaysRemaining, referralDays)
	}
	return fmt.Sprintf(`✅ *¡Gracias por reportar!*

🎁 *¿Quieres recibir notificaciones automáticas?*

Comparte tu código de referido:
📋 `+"`%s`"+`

*¡Gana %d días premium gratis por cada amigo!*

Referidos actuales: %d`,
		code, referralDays, u.ReferralCount)
}

// ReferralStatsMessage summarises a user's referral program standing.
func ReferralStatsMessage(u *store.User, access Access, referralDays int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `📊 *Tus estadísticas del programa de referidos*

🎫 *Tu código:* `+"`%s`"+`

👥 *Referidos:* %d personas
🎁 *Días ganados:* %d días

🌟 *Estado Premium:*`, codeOrNA(u), u.ReferralCount, u.ReferralCount*referralDays)

	if access.Active {
		fmt.Fprintf(&b, `
✅ Activo
⏰ Días restantes: %d

*¡Sigue compartiendo para extender tu premium!*`, access.DaysRemaining)
	} else {
		fmt.Fprintf(&b, `
❌ Inactivo

*¡Comparte tu código para activar premium!*
Cada referido = %d días gratis 🎉`, referralDays)
	}
	return b.String()
}

// AvailabilityMessage is sent to subscribers when a lot frees up.
func AvailabilityMessage(l *store.Lot, now time.Time) string {
	status := l.OccupancyStatus
	if status == "" {
		status = StatusSome
	}
	return fmt.Sprintf(`🔔 *¡Hay cupos disponibles!*

🅿️ *%s*
📍 %s
🚗 Cupos: %s
📊 Estado: %s
🕐 %s

Para dejar de recibir estas alertas, pídeme que cancele tu suscripción.`,
		l.Name, l.Location, l.Spots(), status, Relative(l.UpdatedAt, now))
}

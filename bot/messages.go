package bot

import "fmt"

const welcomeDriver = `¡Bienvenido! 👋🚗

Soy tu asistente para consulta de cupos de parqueaderos en Bogotá.

*Aquí puedo ayudarte a:*

🅿️ *Encontrar cupos disponibles:*
   • Consultar los cupos de parqueaderos en tiempo real
   • Buscar un parqueadero por ubicación o descripción
   • Ver detalles de cada parqueadero

🔔 *Recibir notificaciones:*
   • Suscribirse a parqueaderos específicos
   • Recibir alertas cuando haya cupos libres
   • Gestionar tus suscripciones fácilmente

📊 *Reportar cupos:*
   • Informar cuando encuentres un parqueadero disponible
   • Ver tus reportes activos

Solo necesito tu nombre para empezar. ¿Cuál es? 😊`

const welcomeManager = `¡Bienvenido Gestor! 🏢

Soy tu asistente para gestión inteligente de tu parqueadero en Bogotá.

*Aquí puedo ayudarte a:*

🅿️ *Administrar tu parqueadero:*
   • Ver información y estado actual
   • Actualizar disponibilidad de cupos
   • Consultar detalles del parqueadero

🔔 *Comunicación automatizada:*
   • Notificaciones automáticas a conductores suscritos
   • Alertas cuando haya cambios importantes

Solo necesito tu nombre para empezar. ¿Cuál es? 😊`

const (
	msgAskName         = "Por favor, envía tu nombre para completar el registro 📝"
	msgUnknownRole     = "❌ Rol de usuario no reconocido. Contacta al administrador."
	msgProcessingError = "❌ Ocurrió un error al procesar tu mensaje. Por favor, intenta nuevamente."
	msgEmptyReply      = "No pude procesar tu mensaje. Por favor, intenta nuevamente."
)

func askReferralCode(name string) string {
	return fmt.Sprintf(`¡Mucho gusto, %s! 🙌

¿Alguien te invitó? Si tienes un *código de referido*, escríbelo ahora y tu amigo recibirá días premium gratis 🎁

Si no tienes código, escribe *SALTAR* para continuar.`, name)
}

func confirmRegistration(name, code string) string {
	return fmt.Sprintf(`✅ ¡Excelente %s!

Ya estás registrado en nuestro sistema. Ahora puedes:

• Buscar parqueaderos con cupos disponibles
• Recibir notificaciones de cupos libres
• Reportar cupos disponibles a otros conductores
• Gestionar tus suscripciones

🎫 Tu código de referido: `+"`%s`"+`
Compártelo y gana días premium por cada amigo que se registre.

¿En qué puedo ayudarte? 🚗💨`, name, code)
}

func confirmManagerRegistration(name string) string {
	return fmt.Sprintf(`✅ ¡Excelente %s!

Ya estás registrado como gestor de parqueadero. Ahora puedes:

• Ver información detallada de tu parqueadero
• Actualizar cupos en tiempo real
• Notificar automáticamente a conductores suscritos
• Gestionar la disponibilidad de espacios

¿En qué puedo ayudarte? 🚗📍`, name)
}

func referralAccepted(referrerName string, days int, code string) string {
	if referrerName == "" {
		referrerName = "Tu referidor"
	}
	return fmt.Sprintf("✅ ¡Código válido! %s ha recibido %d días de premium.\n\nTu código de referido: `%s`\n\n¡Ya estás registrado! 🎉",
		referrerName, days, code)
}

const msgInvalidReferral = "❌ Código de referido no válido\n\nIntenta nuevamente o escribe *SALTAR* para continuar sin código."
